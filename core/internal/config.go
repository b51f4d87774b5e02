package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xKoRx/echo-bridge/sdk/etcd"
)

const (
	envPrefix     = "ECHO_BRIDGE_"
	envConfigPath = envPrefix + "CONFIG"
	envEtcdEps    = envPrefix + "ETCD_ENDPOINTS"

	maxPollLimit = 100
)

// Config configuración del bridge.
//
// Capas (la última gana): DefaultConfig → YAML → .env/ECHO_BRIDGE_* → etcd (echo-bridge/{ENV}).
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Auth      AuthConfig      `yaml:"auth"`
	Queue     QueueConfig     `yaml:"queue"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	History   HistoryConfig   `yaml:"history"`
	Storage   StorageConfig   `yaml:"storage"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Etcd      EtcdConfig      `yaml:"etcd"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// HTTPConfig servidor HTTP de agentes y administración.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GRPCConfig servidor gRPC (solo health).
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// AuthConfig tokens de ruta para agentes y token de administración.
type AuthConfig struct {
	Tokens     []string `yaml:"tokens"`      // vacío = cualquier token
	AdminToken string   `yaml:"admin_token"` // vacío = admin sin autenticación
}

// QueueConfig parámetros de la cola de comandos. Recargables en caliente.
type QueueConfig struct {
	Retention      time.Duration `yaml:"retention"`
	ReaperInterval time.Duration `yaml:"reaper_interval"`
	MaxSize        int           `yaml:"max_size"`
	PollLimit      int           `yaml:"poll_limit"`
	WriteRetries   int           `yaml:"write_retries"`
	WriteBackoff   time.Duration `yaml:"write_backoff"`
}

// LivenessConfig ventana de liveness. Recargable en caliente.
type LivenessConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimitConfig token bucket por cuenta para poll.
type RateLimitConfig struct {
	PollPerHour int `yaml:"poll_per_hour"`
	Burst       int `yaml:"burst"`
}

// HistoryConfig buffer en memoria del historial.
type HistoryConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// StorageConfig rutas de archivos locales. Vacío = sin persistencia.
type StorageConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`
	JournalPath string `yaml:"journal_path"`
}

// PostgresConfig historial de auditoría. DSN vacío = solo memoria.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// EtcdConfig capa remota de configuración.
type EtcdConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Endpoints []string `yaml:"endpoints"`
	Env       string   `yaml:"env"`
}

// TelemetryConfig logs, trazas y métricas OTLP.
type TelemetryConfig struct {
	ServiceName         string `yaml:"service_name"`
	ServiceVersion      string `yaml:"service_version"`
	Environment         string `yaml:"environment"`
	LogLevel            string `yaml:"log_level"`
	OTLPEndpoint        string `yaml:"otlp_endpoint"`
	OTLPMetricsEndpoint string `yaml:"otlp_metrics_endpoint"`
	EnableTraces        bool   `yaml:"enable_traces"`
	EnableMetrics       bool   `yaml:"enable_metrics"`
}

// DefaultConfig retorna la configuración por defecto.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		GRPC: GRPCConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    50061,
		},
		Queue: QueueConfig{
			Retention:      300 * time.Second,
			ReaperInterval: 60 * time.Second,
			MaxSize:        1000,
			PollLimit:      10,
			WriteRetries:   3,
			WriteBackoff:   50 * time.Millisecond,
		},
		Liveness: LivenessConfig{
			Timeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PollPerHour: 10000,
			Burst:       50,
		},
		History: HistoryConfig{
			BufferSize: 1000,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "echo-bridge",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			LogLevel:       "info",
		},
	}
}

// Validate rechaza valores que dejarían la cola o los listeners en estado inválido.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.GRPC.Enabled && (c.GRPC.Port < 0 || c.GRPC.Port > 65535) {
		errs = append(errs, fmt.Errorf("grpc.port %d out of range", c.GRPC.Port))
	}
	if c.Queue.Retention <= 0 {
		errs = append(errs, errors.New("queue.retention must be positive"))
	}
	if c.Queue.ReaperInterval <= 0 {
		errs = append(errs, errors.New("queue.reaper_interval must be positive"))
	}
	if c.Queue.MaxSize <= 0 {
		errs = append(errs, errors.New("queue.max_size must be positive"))
	}
	if c.Queue.PollLimit <= 0 || c.Queue.PollLimit > maxPollLimit {
		errs = append(errs, fmt.Errorf("queue.poll_limit must be in 1..%d", maxPollLimit))
	}
	if c.Queue.WriteRetries <= 0 {
		errs = append(errs, errors.New("queue.write_retries must be positive"))
	}
	if c.Queue.WriteBackoff < 0 {
		errs = append(errs, errors.New("queue.write_backoff must not be negative"))
	}
	if c.Liveness.Timeout <= 0 {
		errs = append(errs, errors.New("liveness.timeout must be positive"))
	}
	if c.RateLimit.PollPerHour < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}
	if c.History.BufferSize <= 0 {
		errs = append(errs, errors.New("history.buffer_size must be positive"))
	}
	return errors.Join(errs...)
}

// LoadOptions controla de dónde se leen las capas de configuración.
type LoadOptions struct {
	// ConfigPath archivo YAML. Vacío = ECHO_BRIDGE_CONFIG (si existe).
	ConfigPath string
	// EnvFile archivo .env opcional (default ".env"). Nunca pisa variables ya definidas.
	EnvFile string
	// Etcd fuente remota ya construida (tests). Si es nil se crea desde la config.
	Etcd etcdSource
}

// resolvedPath retorna el archivo YAML efectivo (flag o ECHO_BRIDGE_CONFIG).
func (o LoadOptions) resolvedPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	return os.Getenv(envConfigPath)
}

// etcdSource es el subconjunto de sdk/etcd.Client que usa la carga de configuración.
type etcdSource interface {
	GetVarWithDefault(ctx context.Context, key, defaultValue string) (string, error)
}

// LoadConfig construye la configuración aplicando todas las capas y valida el resultado.
//
// Uso:
//
//	cfg, err := internal.LoadConfig(ctx, internal.LoadOptions{ConfigPath: *configPath})
//	if err != nil {
//	    return err
//	}
func LoadConfig(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg := DefaultConfig()

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if path := opts.resolvedPath(); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	source := opts.Etcd
	if source == nil && cfg.Etcd.Enabled {
		client, err := etcd.New(
			etcd.WithApp(cfg.Telemetry.ServiceName),
			etcd.WithEnv(firstNonEmpty(cfg.Etcd.Env, cfg.Telemetry.Environment)),
			etcd.WithEndpoints(cfg.Etcd.Endpoints...),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd client: %w", err)
		}
		defer client.Close()
		source = client
	}
	if source != nil {
		if err := cfg.applyEtcd(ctx, source); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// envBinding enlaza una variable ECHO_BRIDGE_* con un campo de Config.
type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"HTTP_ADDR", func(c *Config, v string) error { c.HTTP.Addr = v; return nil }},
	{"GRPC_ENABLED", func(c *Config, v string) error { return setBool(&c.GRPC.Enabled, v) }},
	{"GRPC_PORT", func(c *Config, v string) error { return setInt(&c.GRPC.Port, v) }},
	{"AUTH_TOKENS", func(c *Config, v string) error { c.Auth.Tokens = splitList(v); return nil }},
	{"ADMIN_TOKEN", func(c *Config, v string) error { c.Auth.AdminToken = v; return nil }},
	{"QUEUE_RETENTION", func(c *Config, v string) error { return setDuration(&c.Queue.Retention, v) }},
	{"QUEUE_REAPER_INTERVAL", func(c *Config, v string) error { return setDuration(&c.Queue.ReaperInterval, v) }},
	{"QUEUE_MAX_SIZE", func(c *Config, v string) error { return setInt(&c.Queue.MaxSize, v) }},
	{"QUEUE_POLL_LIMIT", func(c *Config, v string) error { return setInt(&c.Queue.PollLimit, v) }},
	{"QUEUE_WRITE_RETRIES", func(c *Config, v string) error { return setInt(&c.Queue.WriteRetries, v) }},
	{"QUEUE_WRITE_BACKOFF", func(c *Config, v string) error { return setDuration(&c.Queue.WriteBackoff, v) }},
	{"LIVENESS_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Liveness.Timeout, v) }},
	{"RATELIMIT_POLL_PER_HOUR", func(c *Config, v string) error { return setInt(&c.RateLimit.PollPerHour, v) }},
	{"RATELIMIT_BURST", func(c *Config, v string) error { return setInt(&c.RateLimit.Burst, v) }},
	{"HISTORY_BUFFER_SIZE", func(c *Config, v string) error { return setInt(&c.History.BufferSize, v) }},
	{"SQLITE_PATH", func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil }},
	{"JOURNAL_PATH", func(c *Config, v string) error { c.Storage.JournalPath = v; return nil }},
	{"POSTGRES_DSN", func(c *Config, v string) error { c.Postgres.DSN = v; return nil }},
	{"ETCD_ENDPOINTS", func(c *Config, v string) error {
		c.Etcd.Endpoints = splitList(v)
		c.Etcd.Enabled = len(c.Etcd.Endpoints) > 0
		return nil
	}},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Telemetry.LogLevel = v; return nil }},
	{"OTLP_ENDPOINT", func(c *Config, v string) error { c.Telemetry.OTLPEndpoint = v; return nil }},
	{"ENABLE_TRACES", func(c *Config, v string) error { return setBool(&c.Telemetry.EnableTraces, v) }},
	{"ENABLE_METRICS", func(c *Config, v string) error { return setBool(&c.Telemetry.EnableMetrics, v) }},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if env, ok := lookup("ENV"); ok && env != "" {
		c.Telemetry.Environment = env
	}
	for _, b := range envBindings {
		v, ok := lookup(envPrefix + b.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("env %s%s: %w", envPrefix, b.name, err)
		}
	}
	return nil
}

// etcdKeys son las claves leídas del namespace echo-bridge/{ENV}/.
// Reutilizan los setters de las variables de entorno.
var etcdKeys = map[string]string{
	"auth/tokens":                  "AUTH_TOKENS",
	"auth/admin_token":             "ADMIN_TOKEN",
	"queue/retention":              "QUEUE_RETENTION",
	"queue/reaper_interval":        "QUEUE_REAPER_INTERVAL",
	"queue/max_size":               "QUEUE_MAX_SIZE",
	"queue/poll_limit":             "QUEUE_POLL_LIMIT",
	"queue/write_retries":          "QUEUE_WRITE_RETRIES",
	"queue/write_backoff":          "QUEUE_WRITE_BACKOFF",
	"liveness/timeout":             "LIVENESS_TIMEOUT",
	"ratelimit/poll_per_hour":      "RATELIMIT_POLL_PER_HOUR",
	"ratelimit/burst":              "RATELIMIT_BURST",
	"postgres/dsn":                 "POSTGRES_DSN",
	"endpoints/otel/otlp_endpoint": "OTLP_ENDPOINT",
}

func (c *Config) applyEtcd(ctx context.Context, source etcdSource) error {
	bindings := make(map[string]envBinding, len(envBindings))
	for _, b := range envBindings {
		bindings[b.name] = b
	}
	for key, name := range etcdKeys {
		val, err := source.GetVarWithDefault(ctx, key, "")
		if err != nil || strings.TrimSpace(val) == "" {
			continue
		}
		if err := bindings[name].apply(c, strings.TrimSpace(val)); err != nil {
			return fmt.Errorf("etcd %s: %w", key, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// setDuration acepta "30s"/"250ms" o segundos enteros.
func setDuration(dst *time.Duration, v string) error {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q", v)
	}
	*dst = time.Duration(secs) * time.Second
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
