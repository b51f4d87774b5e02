package utils

import (
	"time"
)

// Clock retorna la hora actual. Los servicios lo aceptan como opción para tests deterministas.
type Clock func() time.Time

// SystemClock es el Clock real.
func SystemClock() time.Time {
	return time.Now()
}

// NowUTC retorna la hora actual en UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// FormatISO8601 formatea t en UTC con precisión de nanosegundos (RFC 3339).
//
// Example:
//
//	utils.FormatISO8601(t)
//	// => "2026-03-04T10:30:00.123Z"
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseISO8601 interpreta timestamps RFC 3339 con o sin fracción de segundos.
func ParseISO8601(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
