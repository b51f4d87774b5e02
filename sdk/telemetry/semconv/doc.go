// Package semconv define convenciones semánticas para atributos OpenTelemetry
// utilizados en logs, métricas y trazas de echo-bridge.
//
// Uso básico:
//
//	attrs := []attribute.KeyValue{
//	    semconv.Bridge.AccountID.String("1001"),
//	    semconv.Bridge.ErrorCode.String("ACCOUNT_PAUSED"),
//	}
//
//	httpAttrs := []attribute.KeyValue{
//	    semconv.HTTP.Method.String("GET"),
//	    semconv.HTTP.Path.String("/:token/api/commands/:account"),
//	    semconv.HTTP.StatusCode.Int(200),
//	}
package semconv
