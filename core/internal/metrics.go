package internal

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "echo_bridge"

// Eventos de la cola reportados en echo_bridge_queue_commands_total{event}.
const (
	queueEventEnqueued  = "enqueued"
	queueEventDelivered = "delivered"
	queueEventAcked     = "acked"
	queueEventFailed    = "failed"
	queueEventExpired   = "expired"
	queueEventCleared   = "cleared"
)

// Metrics agrupa las métricas Prometheus del bridge sobre un registry propio.
// Todos los métodos aceptan receptor nil.
type Metrics struct {
	registry *prometheus.Registry

	queueCommands *prometheus.CounterVec
	dispatch      *prometheus.CounterVec
	rateLimited   prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// NewMetrics crea y registra los collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queueCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "queue",
				Name:      "commands_total",
				Help:      "Command lifecycle events.",
			},
			[]string{"event"},
		),
		dispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_total",
				Help:      "Dispatch decisions by result code.",
			},
			[]string{"result"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Poll requests rejected by the per-account rate limiter.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	m.registry.MustRegister(
		m.queueCommands,
		m.dispatch,
		m.rateLimited,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterQueueDepth publica echo_bridge_queue_depth calculado en cada scrape.
func (m *Metrics) RegisterQueueDepth(depth func() int) {
	if m == nil || depth == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Unresolved commands across all accounts.",
		},
		func() float64 { return float64(depth()) },
	))
}

// CommandEvent suma n eventos del ciclo de vida de comandos.
func (m *Metrics) CommandEvent(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.queueCommands.WithLabelValues(event).Add(float64(n))
}

// DispatchResult cuenta una decisión de dispatch ("success" o el código de error).
func (m *Metrics) DispatchResult(result string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(result).Inc()
}

// RateLimited cuenta un poll rechazado.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordHTTPRequest registra una request HTTP por ruta (template, no path crudo).
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// Handler expone el registry en formato Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer expone el registry (tests y diagnósticos).
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
