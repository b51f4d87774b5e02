package utils

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// PrettyPrint formatea JSON con indentación para debugging.
// Retorna el original si data no es JSON válido.
func PrettyPrint(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}

// JSONToMap convierte JSON a map[string]interface{}.
//
// Útil para señales y bodies del EA cuyos campos no se conocen de antemano.
func JSONToMap(data []byte) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := json.Unmarshal(data, &result)
	return result, err
}

// ExtractString retorna m[key] como string.
//
// Los EA MQL a veces envían números de cuenta como número; se formatean sin decimales.
func ExtractString(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// ExtractFloat retorna m[key] como float64 (acepta strings numéricos). 0 si no aplica.
func ExtractFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
