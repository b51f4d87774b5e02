package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEtcd map[string]string

func (f fakeEtcd) GetVarWithDefault(_ context.Context, key, def string) (string, error) {
	if v, ok := f[key]; ok {
		return v, nil
	}
	return def, errors.New("key not found")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300*time.Second, cfg.Queue.Retention)
	assert.Equal(t, 3, cfg.Queue.WriteRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Queue.WriteBackoff)
	assert.Equal(t, 10, cfg.Queue.PollLimit)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.Addr = ""
	cfg.Queue.Retention = 0
	cfg.Queue.PollLimit = 500

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.addr")
	assert.Contains(t, err.Error(), "queue.retention")
	assert.Contains(t, err.Error(), "queue.poll_limit")
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "bridge.yaml", `
http:
  addr: ":9090"
queue:
  retention: 120s
  max_size: 50
auth:
  tokens: ["yaml-token"]
`)
	envPath := writeFile(t, dir, ".env", "ECHO_BRIDGE_QUEUE_MAX_SIZE=75\n")
	t.Setenv("ECHO_BRIDGE_LIVENESS_TIMEOUT", "45")
	// godotenv escribe en el entorno del proceso; t.Setenv restaura el valor al terminar
	t.Setenv("ECHO_BRIDGE_QUEUE_MAX_SIZE", "")
	os.Unsetenv("ECHO_BRIDGE_QUEUE_MAX_SIZE")

	cfg, err := LoadConfig(context.Background(), LoadOptions{
		ConfigPath: yamlPath,
		EnvFile:    envPath,
		Etcd: fakeEtcd{
			"queue/retention": "90s",
			"auth/tokens":     "t1, t2",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 75, cfg.Queue.MaxSize, ".env overrides yaml")
	assert.Equal(t, 45*time.Second, cfg.Liveness.Timeout, "integer seconds accepted")
	assert.Equal(t, 90*time.Second, cfg.Queue.Retention, "etcd wins")
	assert.Equal(t, []string{"t1", "t2"}, cfg.Auth.Tokens)
	assert.Equal(t, 10, cfg.Queue.PollLimit, "defaults kept")
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ECHO_BRIDGE_QUEUE_POLL_LIMIT", "abc")
	_, err := LoadConfig(context.Background(), LoadOptions{EnvFile: filepath.Join(dir, "missing.env")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ECHO_BRIDGE_QUEUE_POLL_LIMIT")
}

func TestLoadConfigMissingYAML(t *testing.T) {
	_, err := LoadConfig(context.Background(), LoadOptions{
		ConfigPath: filepath.Join(t.TempDir(), "nope.yaml"),
		EnvFile:    filepath.Join(t.TempDir(), "none.env"),
	})
	assert.Error(t, err)
}

func TestSetDuration(t *testing.T) {
	var d time.Duration
	require.NoError(t, setDuration(&d, "250ms"))
	assert.Equal(t, 250*time.Millisecond, d)
	require.NoError(t, setDuration(&d, "30"))
	assert.Equal(t, 30*time.Second, d)
	assert.Error(t, setDuration(&d, "soon"))
}
