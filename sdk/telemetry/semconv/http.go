package semconv

import (
	"go.opentelemetry.io/otel/attribute"
)

// HTTP define las convenciones semánticas para atributos OpenTelemetry relacionados con HTTP.
// Se usan en el middleware de logging del API que consumen los EA y los operadores.
var HTTP struct {
	// Method identifica el método HTTP de la petición (GET, POST, ...).
	Method attribute.Key

	// Path representa la ruta registrada (con parámetros sin expandir).
	Path attribute.Key

	// ClientIP registra la dirección IP del cliente que realizó la petición.
	ClientIP attribute.Key

	// StatusCode almacena el código de estado HTTP de la respuesta.
	StatusCode attribute.Key

	// DurationMs registra la duración de la petición en milisegundos.
	DurationMs attribute.Key

	// Bytes registra el tamaño del body de respuesta.
	Bytes attribute.Key

	// Error contiene los errores acumulados por el handler.
	Error attribute.Key
}

func init() {
	HTTP.Method = attribute.Key("http.method")
	HTTP.Path = attribute.Key("http.path")
	HTTP.ClientIP = attribute.Key("http.client_ip")
	HTTP.StatusCode = attribute.Key("http.status_code")
	HTTP.DurationMs = attribute.Key("http.duration_ms")
	HTTP.Bytes = attribute.Key("http.bytes")
	HTTP.Error = attribute.Key("http.error")
}
