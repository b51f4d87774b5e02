// Package internal contiene la lógica interna del bridge.
//
// El Core arma los componentes (registry, cola, dispatcher, copy manager, historial),
// los persiste según la configuración y expone los servidores HTTP y gRPC health.
package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/xKoRx/echo-bridge/core/internal/repository"
	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
)

// sqliteMemoryPath es la base usada cuando storage.sqlite_path está vacío.
const sqliteMemoryPath = ":memory:"

// Core representa el servicio principal de echo-bridge.
//
// Responsabilidades:
//   - Liveness Registry de cuentas slave (SQLite)
//   - Cola de comandos por cuenta con journal (bbolt) y reaper
//   - Dispatcher y fan-out de señales master → slaves
//   - Historial de auditoría (memoria + PostgreSQL opcional)
//   - API HTTP (gin), gRPC health, métricas Prometheus, recarga de config
type Core struct {
	config   *Config
	loadOpts LoadOptions

	telemetry *telemetry.Client
	ownsTel   bool
	metrics   *Metrics

	sqlite   *repository.SQLiteStore
	journal  *repository.BoltJournal
	postgres *repository.PostgresFactory

	registry   *LivenessRegistry
	queue      *CommandQueue
	reaper     *queueReaper
	history    *HistoryRecorder
	dispatcher *Dispatcher
	copier     *CopyManager
	limiter    *pollLimiter
	http       *HTTPServer

	mu     sync.Mutex
	closed bool
}

// CoreOption configura dependencias opcionales del Core.
type CoreOption func(*Core)

// WithTelemetry usa un cliente ya creado (tests). El Core no lo cierra.
func WithTelemetry(tel *telemetry.Client) CoreOption {
	return func(c *Core) { c.telemetry = tel }
}

// WithLoadOptions guarda cómo se cargó la config para poder recargarla.
func WithLoadOptions(opts LoadOptions) CoreOption {
	return func(c *Core) { c.loadOpts = opts }
}

// New crea el Core: telemetría, almacenamiento y componentes. No abre listeners.
//
// Example:
//
//	cfg, err := internal.LoadConfig(ctx, internal.LoadOptions{ConfigPath: path})
//	if err != nil {
//	    return err
//	}
//	core, err := internal.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	return core.Run(ctx)
func New(ctx context.Context, config *Config, opts ...CoreOption) (*Core, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Core{config: config}
	for _, opt := range opts {
		opt(c)
	}

	if c.telemetry == nil {
		tel, err := newTelemetry(ctx, config.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		c.telemetry = tel
		c.ownsTel = true
	}

	if err := c.openStorage(ctx); err != nil {
		c.closeStorage(ctx)
		c.shutdownTelemetry(ctx)
		return nil, err
	}
	if err := c.build(ctx); err != nil {
		c.closeStorage(ctx)
		c.shutdownTelemetry(ctx)
		return nil, err
	}

	if config.Auth.AdminToken == "" {
		c.telemetry.Warn(ctx, "auth.admin_token not set, admin API is open")
	}
	if len(config.Auth.Tokens) == 0 {
		c.telemetry.Warn(ctx, "auth.tokens empty, any agent token is accepted")
	}

	c.telemetry.Info(ctx, "Core initialized",
		semconv.Bridge.Component.String(semconv.ComponentValues.Core),
		attribute.String("http_addr", config.HTTP.Addr),
		attribute.Bool("grpc_enabled", config.GRPC.Enabled),
		attribute.Bool("journal", c.journal != nil),
		attribute.Bool("postgres", c.postgres != nil),
		attribute.Int64("retention_ms", config.Queue.Retention.Milliseconds()),
	)
	return c, nil
}

func newTelemetry(ctx context.Context, cfg TelemetryConfig) (*telemetry.Client, error) {
	opts := []telemetry.Option{
		telemetry.WithVersion(cfg.ServiceVersion),
		telemetry.WithLogLevel(telemetry.ParseLevel(cfg.LogLevel)),
	}
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, telemetry.WithOTLPEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.OTLPMetricsEndpoint != "" {
		opts = append(opts, telemetry.WithMetricsEndpoint(cfg.OTLPMetricsEndpoint))
	}
	if !cfg.EnableTraces {
		opts = append(opts, telemetry.WithTracesDisabled())
	}
	if !cfg.EnableMetrics {
		opts = append(opts, telemetry.WithMetricsDisabled())
	}
	return telemetry.New(ctx, cfg.ServiceName, cfg.Environment, opts...)
}

func (c *Core) openStorage(ctx context.Context) error {
	sqlitePath := c.config.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = sqliteMemoryPath
		c.telemetry.Warn(ctx, "storage.sqlite_path not set, accounts and pairs kept in memory")
	}
	store, err := repository.OpenSQLite(sqlitePath)
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	c.sqlite = store

	if path := c.config.Storage.JournalPath; path != "" {
		journal, err := repository.OpenBoltJournal(path)
		if err != nil {
			return fmt.Errorf("open command journal: %w", err)
		}
		c.journal = journal
	} else {
		c.telemetry.Warn(ctx, "storage.journal_path not set, command queue is not durable")
	}

	if dsn := c.config.Postgres.DSN; dsn != "" {
		pg, err := repository.OpenPostgres(ctx, dsn, c.config.Postgres.MaxConns)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		c.postgres = pg
	}
	return nil
}

func (c *Core) build(ctx context.Context) error {
	cfg := c.config
	c.metrics = NewMetrics()

	c.registry = NewLivenessRegistry(cfg.Liveness.Timeout, c.telemetry,
		WithAccountRepository(c.sqlite.Accounts()),
	)
	if err := c.registry.Load(ctx); err != nil {
		return err
	}

	c.history = NewHistoryRecorder(cfg.History.BufferSize, c.historyRepository(), c.telemetry)

	queueOpts := []QueueOption{
		WithTerminalRecorder(c.history),
		WithQueueMetrics(c.metrics),
	}
	if c.journal != nil {
		queueOpts = append(queueOpts, WithJournal(c.journal))
	}
	c.queue = NewCommandQueue(cfg.Queue, c.telemetry, queueOpts...)
	if _, err := c.queue.Restore(ctx); err != nil {
		return err
	}
	c.metrics.RegisterQueueDepth(c.queue.Depth)
	c.reaper = newQueueReaper(c.queue, c.telemetry, cfg.Queue.ReaperInterval)

	c.dispatcher = NewDispatcher(c.registry, c.queue, c.telemetry,
		WithDispatchHistory(c.history),
		WithDispatchMetrics(c.metrics),
	)
	c.copier = NewCopyManager(c.sqlite.CopyPairs(), c.dispatcher, c.telemetry)
	c.limiter = newPollLimiter(cfg.RateLimit.PollPerHour, cfg.RateLimit.Burst)

	c.http = NewHTTPServer(cfg.HTTP, cfg.Auth, httpDeps{
		Queue:      c.queue,
		Registry:   c.registry,
		Dispatcher: c.dispatcher,
		Copier:     c.copier,
		History:    c.history,
		Limiter:    c.limiter,
		Metrics:    c.metrics,
		Telemetry:  c.telemetry,
	})
	return nil
}

// historyRepository evita guardar un *PostgresFactory nil dentro de la interfaz.
func (c *Core) historyRepository() domain.HistoryRepository {
	if c.postgres == nil {
		return nil
	}
	return c.postgres.HistoryRepository()
}

// Run arranca el reaper, el servidor HTTP, gRPC health y el watcher de config.
// Bloquea hasta que ctx se cancele o un servidor falle; luego libera recursos.
func (c *Core) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("core already closed")
	}
	c.mu.Unlock()

	ctx = telemetry.AppendCommonAttrs(ctx,
		semconv.Bridge.Component.String(semconv.ComponentValues.Core),
	)

	var health *healthServer
	if c.config.GRPC.Enabled {
		var err error
		if health, err = newHealthServer(c.config.GRPC, c.telemetry); err != nil {
			return err
		}
	}
	var watcher *configWatcher
	if path := c.loadOpts.resolvedPath(); path != "" {
		var err error
		if watcher, err = newConfigWatcher(path, c.reloadConfig, c.telemetry); err != nil {
			c.telemetry.Warn(ctx, "Config hot reload disabled", attribute.String("error", err.Error()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	c.reaper.Start(gctx)
	g.Go(func() error { return c.http.Serve(gctx) })
	if health != nil {
		g.Go(func() error { return health.Serve(gctx) })
	}
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	c.telemetry.Info(ctx, "Core started successfully")
	err := g.Wait()
	c.reaper.Stop()

	shutdownErr := c.Shutdown(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	return shutdownErr
}

// reloadConfig vuelve a leer todas las capas y aplica los valores recargables.
func (c *Core) reloadConfig(ctx context.Context) error {
	cfg, err := LoadConfig(ctx, c.loadOpts)
	if err != nil {
		return err
	}
	c.UpdateConfig(cfg)
	return nil
}

// UpdateConfig aplica en caliente cola, reaper, liveness y rate limit.
// Direcciones, almacenamiento y auth requieren reinicio.
func (c *Core) UpdateConfig(cfg *Config) {
	c.mu.Lock()
	previous := c.config
	next := *previous
	next.Queue = cfg.Queue
	next.Liveness = cfg.Liveness
	next.RateLimit = cfg.RateLimit
	c.config = &next
	c.mu.Unlock()

	c.queue.UpdateConfig(cfg.Queue)
	c.reaper.UpdateInterval(cfg.Queue.ReaperInterval)
	c.registry.UpdateTimeout(cfg.Liveness.Timeout)
	if cfg.RateLimit != previous.RateLimit {
		c.limiter.Update(cfg.RateLimit.PollPerHour, cfg.RateLimit.Burst)
	}
}

// Shutdown cierra almacenamiento y telemetría. Es idempotente.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.telemetry.Info(ctx, "Shutting down Core")
	if c.reaper != nil {
		c.reaper.Stop()
	}
	err := c.closeStorage(ctx)
	c.telemetry.Info(ctx, "Core shutdown complete")
	c.shutdownTelemetry(ctx)
	return err
}

func (c *Core) closeStorage(ctx context.Context) error {
	var errs []error
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if c.sqlite != nil {
		if err := c.sqlite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite: %w", err))
		}
	}
	if c.postgres != nil {
		if err := c.postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close postgres: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		c.telemetry.Error(ctx, "Failed to close storage", err)
	}
	return err
}

func (c *Core) shutdownTelemetry(ctx context.Context) {
	if !c.ownsTel {
		return
	}
	if err := c.telemetry.Shutdown(ctx); err != nil {
		c.telemetry.Error(ctx, "Telemetry shutdown failed", err)
	}
}

// Queue retorna la cola de comandos.
func (c *Core) Queue() *CommandQueue {
	return c.queue
}

// Registry retorna el Liveness Registry.
func (c *Core) Registry() *LivenessRegistry {
	return c.registry
}

// Dispatcher retorna el dispatcher de comandos.
func (c *Core) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// CopyManager retorna el manager de copy pairs.
func (c *Core) CopyManager() *CopyManager {
	return c.copier
}

// HTTPServer retorna el servidor HTTP (tests con httptest).
func (c *Core) HTTPServer() *HTTPServer {
	return c.http
}
