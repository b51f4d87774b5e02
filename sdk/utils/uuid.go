package utils

import (
	"github.com/google/uuid"
)

// GenerateUUIDv7 genera un UUID v7 (ordenable por tiempo).
//
// Los command_id generados con esta función ordenan igual que su instante de creación,
// lo que permite al EA deduplicar y al journal recorrer en orden de encolado.
//
// Example:
//
//	id := utils.GenerateUUIDv7()
//	// => "01907c2e-8f3a-7b1c-9d2e-4f5a6b7c8d9e"
func GenerateUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Sin entropía para v7: v4 mantiene la unicidad aunque pierda el orden temporal
		return uuid.NewString()
	}
	return id.String()
}

// IsValidUUID reporta si s es un UUID bien formado.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
