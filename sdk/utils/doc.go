// Package utils provee utilidades comunes para el SDK de echo-bridge.
//
// # Utilidades Incluidas
//
// - UUID: Generación de UUIDv7 ordenables por tiempo (command_id)
// - Timestamp: ISO-8601 UTC, Clock inyectable
// - JSON: Parsing de señales y extracción tolerante de campos
//
// # Uso
//
//	id := utils.GenerateUUIDv7()
//	ts := utils.FormatISO8601(utils.NowUTC())
//
//	m, err := utils.JSONToMap(body)
//	account := utils.ExtractString(m, "account") // 12345678 o "12345678"
package utils
