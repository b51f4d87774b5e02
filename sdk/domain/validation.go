package domain

import (
	"fmt"
	"strings"
	"unicode"
)

const maxAccountIDLength = 64

// NormalizeAccountID limpia y valida un identificador de cuenta.
//
// El identificador es opaco, pero debe ser no vacío, sin espacios internos ni '/'
// (se usa como parámetro de ruta) y de longitud acotada.
func NormalizeAccountID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", NewError(ErrInvalidAccount, "account id is required")
	}
	if len(id) > maxAccountIDLength {
		return "", NewError(ErrInvalidAccount, fmt.Sprintf("account id longer than %d characters", maxAccountIDLength))
	}
	for _, r := range id {
		if unicode.IsSpace(r) || r == '/' || unicode.IsControl(r) {
			return "", NewError(ErrInvalidAccount, fmt.Sprintf("account id %q contains invalid characters", id))
		}
	}
	return id, nil
}

// ValidateCommandPayload verifica que la señal traiga action y symbol como strings no vacíos.
func ValidateCommandPayload(payload map[string]interface{}) error {
	if payload == nil {
		return NewError(ErrInvalidPayload, "command payload is required")
	}
	for _, field := range []string{FieldAction, FieldSymbol} {
		v, ok := payload[field].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return NewError(ErrInvalidPayload, fmt.Sprintf("field %q is required", field)).
				WithDetail("field", field)
		}
	}
	return nil
}
