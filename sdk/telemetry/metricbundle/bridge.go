package metricbundle

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BridgeMetrics bundle de métricas para el bridge de comandos.
//
// # Métricas de Conteo
//
//   - bridge.dispatch.result: decisiones de dispatch por resultado (success/rejected) y código
//   - bridge.command.transition: transiciones de estado de comandos (PENDING, DELIVERED, ACKED, ...)
//   - bridge.queue.write_retry: reintentos de escritura del journal de comandos
//
// # Métricas de Latencia
//
//   - bridge.command.ack_latency: encolado → ack en milisegundos
//
// # Uso
//
//	metrics := client.BridgeMetrics()
//	metrics.RecordDispatch(ctx, true, "")
//	metrics.RecordTransition(ctx, "ACKED", 1)
type BridgeMetrics struct {
	DispatchResult    metric.Int64Counter
	CommandTransition metric.Int64Counter
	QueueWriteRetry   metric.Int64Counter
	AckLatency        metric.Float64Histogram
}

// NewBridgeMetrics crea un nuevo bundle de métricas del bridge.
func NewBridgeMetrics(meter metric.Meter) (*BridgeMetrics, error) {
	dispatchResult, err := meter.Int64Counter(
		"bridge.dispatch.result",
		metric.WithDescription("Decisiones de dispatch por cuenta slave"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, err
	}

	commandTransition, err := meter.Int64Counter(
		"bridge.command.transition",
		metric.WithDescription("Transiciones de estado de comandos en la cola"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	writeRetry, err := meter.Int64Counter(
		"bridge.queue.write_retry",
		metric.WithDescription("Reintentos de escritura del journal de comandos"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	ackLatency, err := meter.Float64Histogram(
		"bridge.command.ack_latency",
		metric.WithDescription("Latencia desde el encolado hasta el ack del EA"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &BridgeMetrics{
		DispatchResult:    dispatchResult,
		CommandTransition: commandTransition,
		QueueWriteRetry:   writeRetry,
		AckLatency:        ackLatency,
	}, nil
}

// RecordDispatch registra una decisión de dispatch.
func (m *BridgeMetrics) RecordDispatch(ctx context.Context, success bool, code string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	result := "rejected"
	if success {
		result = "success"
	}
	all := append([]attribute.KeyValue{
		attribute.String("result", result),
		attribute.String("code", code),
	}, attrs...)
	m.DispatchResult.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordTransition registra n comandos que alcanzaron status.
func (m *BridgeMetrics) RecordTransition(ctx context.Context, status string, n int64, attrs ...attribute.KeyValue) {
	if m == nil || n <= 0 {
		return
	}
	all := append([]attribute.KeyValue{attribute.String("status", status)}, attrs...)
	m.CommandTransition.Add(ctx, n, metric.WithAttributes(all...))
}

// RecordWriteRetry registra un reintento de escritura del journal.
func (m *BridgeMetrics) RecordWriteRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.QueueWriteRetry.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordAckLatency registra la latencia encolado → ack.
func (m *BridgeMetrics) RecordAckLatency(ctx context.Context, latencyMs float64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.AckLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}
