package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDv7(t *testing.T) {
	a := GenerateUUIDv7()
	b := GenerateUUIDv7()

	assert.NotEqual(t, a, b)
	assert.True(t, IsValidUUID(a))
	assert.Equal(t, byte('7'), a[14], "version nibble")
}

func TestISO8601RoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 600000000, time.FixedZone("X", 3600))
	s := FormatISO8601(ts)
	assert.Equal(t, "2026-01-02T02:04:05.6Z", s)

	parsed, err := ParseISO8601(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	_, err = ParseISO8601("yesterday")
	assert.Error(t, err)
}

func TestExtractHelpers(t *testing.T) {
	m, err := JSONToMap([]byte(`{"account":12345678,"name":" x ","volume":"0.5","lots":0.2}`))
	require.NoError(t, err)

	assert.Equal(t, "12345678", ExtractString(m, "account"))
	assert.Equal(t, "x", ExtractString(m, "name"))
	assert.Equal(t, "", ExtractString(m, "missing"))
	assert.Equal(t, 0.5, ExtractFloat(m, "volume"))
	assert.Equal(t, 0.2, ExtractFloat(m, "lots"))
	assert.Equal(t, 0.0, ExtractFloat(m, "name"))
}
