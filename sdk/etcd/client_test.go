package etcd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type mockKV struct {
	data    map[string]string
	failGet bool
}

func newMockKV() *mockKV { return &mockKV{data: map[string]string{}} }

func (m *mockKV) Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if m.failGet {
		return nil, errors.New("etcd unavailable")
	}
	resp := &clientv3.GetResponse{}
	if v, ok := m.data[key]; ok {
		resp.Kvs = []*mvccpb.KeyValue{{Key: []byte(key), Value: []byte(v)}}
	}
	return resp, nil
}

func (m *mockKV) Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.data[key] = val
	return &clientv3.PutResponse{}, nil
}

func (m *mockKV) Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	delete(m.data, key)
	return &clientv3.DeleteResponse{}, nil
}

func TestGetVarAndDefaults(t *testing.T) {
	kv := newMockKV()
	kv.data["queue/max_size"] = "500"
	kv.data["queue/retention"] = "2m"
	kv.data["queue/write_backoff"] = "75"
	kv.data["auth/enabled"] = "true"
	c := NewWithKV(kv, WithEnv("testing"))
	ctx := context.Background()

	v, err := c.GetVar(ctx, "queue/max_size")
	require.NoError(t, err)
	assert.Equal(t, "500", v)

	_, err = c.GetVar(ctx, "missing")
	assert.Error(t, err)

	n, _ := c.GetVarIntWithDefault(ctx, "queue/max_size", 1000)
	assert.Equal(t, 500, n)
	n, _ = c.GetVarIntWithDefault(ctx, "missing", 1000)
	assert.Equal(t, 1000, n)

	d, _ := c.GetVarDurationWithDefault(ctx, "queue/retention", time.Minute)
	assert.Equal(t, 2*time.Minute, d)
	d, _ = c.GetVarDurationWithDefault(ctx, "queue/write_backoff", time.Second)
	assert.Equal(t, 75*time.Millisecond, d)

	b, _ := c.GetVarBoolWithDefault(ctx, "auth/enabled", false)
	assert.True(t, b)

	assert.Equal(t, "/echo-bridge/testing/", c.NamespacePrefix())
}

func TestGetVarWithDefaultOnBackendError(t *testing.T) {
	kv := newMockKV()
	kv.failGet = true
	c := NewWithKV(kv)

	v, err := c.GetVarWithDefault(context.Background(), "http/addr", ":8080")
	require.NoError(t, err)
	assert.Equal(t, ":8080", v)
}

func TestSetAndDeleteVar(t *testing.T) {
	kv := newMockKV()
	c := NewWithKV(kv)
	ctx := context.Background()

	require.NoError(t, c.SetVar(ctx, "liveness/timeout", "45s"))
	assert.Equal(t, "45s", kv.data["liveness/timeout"])

	require.NoError(t, c.DeleteVar(ctx, "liveness/timeout"))
	assert.NotContains(t, kv.data, "liveness/timeout")
	assert.NoError(t, c.Close())
}

func TestNewRequiresEndpoints(t *testing.T) {
	t.Setenv(envEndpoints, "")
	_, err := New()
	assert.Error(t, err)
}

func TestSplitEndpoints(t *testing.T) {
	assert.Equal(t, []string{"http://a:2379", "http://b:2379"}, splitEndpoints(" http://a:2379, ,http://b:2379 "))
	assert.Nil(t, splitEndpoints(""))
}
