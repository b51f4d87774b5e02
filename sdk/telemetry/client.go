package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xKoRx/echo-bridge/sdk/telemetry/metricbundle"
)

// Client es el cliente unificado de telemetría para echo-bridge
type Client struct {
	config Config
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	// Providers (para shutdown)
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	// Instrumentos de métricas comunes
	instrumentsMu sync.Mutex
	counters      map[string]metric.Int64Counter
	histograms    map[string]metric.Float64Histogram

	bridgeMetrics *metricbundle.BridgeMetrics
}

// New crea una nueva instancia del cliente de telemetría
func New(ctx context.Context, serviceName, environment string, opts ...Option) (*Client, error) {
	cfg := DefaultConfig(serviceName, environment)
	for _, opt := range opts {
		opt(&cfg)
	}

	client := &Client{
		config:     cfg,
		tracer:     tracenoop.NewTracerProvider().Tracer(cfg.ServiceName),
		meter:      metricnoop.NewMeterProvider().Meter(cfg.ServiceName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}

	// Crear resource común
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
		resource.WithAttributes(cfg.CommonAttributes...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Inicializar logs
	if cfg.EnableLogs {
		client.initLogs()
	}

	// Inicializar trazas
	if cfg.EnableTraces {
		if err := client.initTraces(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to init traces: %w", err)
		}
	}

	// Inicializar métricas
	if cfg.EnableMetrics {
		if err := client.initMetrics(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to init metrics: %w", err)
		}
	}

	bundle, err := metricbundle.NewBridgeMetrics(client.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge metrics: %w", err)
	}
	client.bridgeMetrics = bundle

	return client, nil
}

// NewNoop crea un cliente sin exporters. Los logs van a w (io.Discard si es nil).
//
// Pensado para tests y herramientas de línea de comandos.
func NewNoop(w io.Writer) *Client {
	if w == nil {
		w = io.Discard
	}
	client, err := New(context.Background(), "noop", "test",
		WithTracesDisabled(),
		WithMetricsDisabled(),
		WithLogWriter(w),
		WithLogLevel(slog.LevelDebug),
	)
	if err != nil {
		// Sin exporters solo puede fallar el resource, que no depende de I/O
		panic(fmt.Sprintf("telemetry noop client: %v", err))
	}
	return client
}

func (c *Client) initLogs() {
	w := c.config.LogWriter
	if w == nil {
		w = io.Discard
	}
	// Usar slog estándar con JSON handler
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: c.config.LogLevel,
	})
	c.logger = slog.New(handler).With(
		slog.String("service.name", c.config.ServiceName),
		slog.String("service.environment", c.config.Environment),
	)
}

func (c *Client) initTraces(ctx context.Context, res *resource.Resource) error {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(c.config.tracesEndpoint()),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return err
	}

	c.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(c.tracerProvider)
	c.tracer = c.tracerProvider.Tracer(c.config.ServiceName)

	return nil
}

func (c *Client) initMetrics(ctx context.Context, res *resource.Resource) error {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(c.config.metricsEndpoint()),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return err
	}

	c.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(c.meterProvider)
	c.meter = c.meterProvider.Meter(c.config.ServiceName)

	return nil
}

// BridgeMetrics retorna el bundle de métricas del dominio.
func (c *Client) BridgeMetrics() *metricbundle.BridgeMetrics {
	if c == nil {
		return nil
	}
	return c.bridgeMetrics
}

// Shutdown cierra todos los exporters y libera recursos
func (c *Client) Shutdown(ctx context.Context) error {
	var errs []error

	if c.tracerProvider != nil {
		if err := c.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if c.meterProvider != nil {
		if err := c.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	return nil
}

// GetOrCreateCounter obtiene o crea un contador
func (c *Client) GetOrCreateCounter(name, description string) (metric.Int64Counter, error) {
	c.instrumentsMu.Lock()
	defer c.instrumentsMu.Unlock()

	if counter, exists := c.counters[name]; exists {
		return counter, nil
	}

	counter, err := c.meter.Int64Counter(name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, err
	}

	c.counters[name] = counter
	return counter, nil
}

// GetOrCreateHistogram obtiene o crea un histograma
func (c *Client) GetOrCreateHistogram(name, description string) (metric.Float64Histogram, error) {
	c.instrumentsMu.Lock()
	defer c.instrumentsMu.Unlock()

	if histogram, exists := c.histograms[name]; exists {
		return histogram, nil
	}

	histogram, err := c.meter.Float64Histogram(name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, err
	}

	c.histograms[name] = histogram
	return histogram, nil
}

// ExtractAttributes retorna los atributos comunes y de evento guardados en el contexto.
func ExtractAttributes(ctx context.Context) []attribute.KeyValue {
	if ctx == nil {
		return nil
	}
	common := GetCommonAttrs(ctx)
	events := GetEventAttrs(ctx)
	out := make([]attribute.KeyValue, 0, len(common)+len(events))
	out = append(out, common...)
	return append(out, events...)
}
