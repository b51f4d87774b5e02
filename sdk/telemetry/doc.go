// Package telemetry proporciona observabilidad para echo-bridge mediante los tres pilares:
//
// 1. Logs: Registro estructurado JSON (slog) con atributos OpenTelemetry
// 2. Métricas: OpenTelemetry exportadas vía OTLP gRPC
// 3. Trazas: Trazado distribuido con OpenTelemetry
//
// Uso básico:
//
//	client, err := telemetry.New(ctx, "echo-bridge", "production",
//	    telemetry.WithOTLPEndpoint("otel-collector:4317"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Shutdown(ctx)
//
//	client.Info(ctx, "command queued",
//	    semconv.Bridge.AccountID.String("1001"),
//	    semconv.Bridge.CommandID.String(id),
//	)
//
//	ctx, span := client.StartSpan(ctx, "core.dispatch")
//	defer span.End()
//
// Con trazas o métricas deshabilitadas el cliente usa proveedores no-op, de modo que
// los llamadores nunca necesitan verificar si la telemetría está activa.
package telemetry
