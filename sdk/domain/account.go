package domain

import (
	"strings"
	"time"
)

// AccountStatus representa el estado operacional declarado de una cuenta slave.
type AccountStatus string

const (
	AccountStatusActive             AccountStatus = "ACTIVE"
	AccountStatusPaused             AccountStatus = "PAUSED"
	AccountStatusAwaitingActivation AccountStatus = "AWAITING_ACTIVATION"
)

// ParseAccountStatus normaliza un estado recibido por API o almacenamiento.
//
// Acepta la grafía histórica "PAUSE". Retorna false si el valor no es reconocido.
func ParseAccountStatus(raw string) (AccountStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ACTIVE":
		return AccountStatusActive, true
	case "PAUSED", "PAUSE":
		return AccountStatusPaused, true
	case "AWAITING_ACTIVATION", "WAIT_FOR_ACTIVATION", "AWAITING":
		return AccountStatusAwaitingActivation, true
	default:
		return "", false
	}
}

// SlaveAccount es una cuenta conocida por el Liveness Registry.
// Corresponde a la tabla `accounts` en SQLite.
type SlaveAccount struct {
	AccountID      string        `json:"account_id"`
	Nickname       string        `json:"nickname,omitempty"`
	Broker         string        `json:"broker,omitempty"`
	Server         string        `json:"server,omitempty"`
	Symbol         string        `json:"symbol,omitempty"`
	Status         AccountStatus `json:"status"`
	SymbolReceived bool          `json:"symbol_received"`
	EAVersion      string        `json:"ea_version,omitempty"`
	Balance        float64       `json:"balance"`
	Equity         float64       `json:"equity"`
	LastSeen       time.Time     `json:"last_seen"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Clone retorna una copia del registro.
func (a *SlaveAccount) Clone() *SlaveAccount {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// AccountState es la vista de estado consumida por el Dispatcher.
type AccountState struct {
	Status         AccountStatus
	SymbolReceived bool
}

// HeartbeatReport es el reporte periódico de liveness y metadatos de un EA.
type HeartbeatReport struct {
	Account   string   `json:"account"`
	Broker    string   `json:"broker,omitempty"`
	Server    string   `json:"server,omitempty"`
	Symbol    string   `json:"symbol,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Balance   *float64 `json:"balance,omitempty"`
	Equity    *float64 `json:"equity,omitempty"`
	EAVersion string   `json:"ea_version,omitempty"`
}

// HasSymbols reporta si el heartbeat declara al menos un símbolo operable.
func (h HeartbeatReport) HasSymbols() bool {
	if strings.TrimSpace(h.Symbol) != "" {
		return true
	}
	for _, s := range h.Symbols {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// CopyPair vincula una cuenta master con una cuenta slave.
// Corresponde a la tabla `copy_pairs` en SQLite.
type CopyPair struct {
	ID            int64     `json:"id"`
	MasterAccount string    `json:"master_account"`
	SlaveAccount  string    `json:"slave_account"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
}
