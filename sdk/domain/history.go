package domain

import "time"

// HistoryStatus clasifica un evento de auditoría.
type HistoryStatus string

const (
	HistoryStatusQueued   HistoryStatus = "queued"
	HistoryStatusRejected HistoryStatus = "rejected"
	HistoryStatusAcked    HistoryStatus = "acked"
	HistoryStatusFailed   HistoryStatus = "failed"
	HistoryStatusExpired  HistoryStatus = "expired"
)

// HistoryStatusFor mapea un estado terminal de comando a su evento de auditoría.
func HistoryStatusFor(status CommandStatus) HistoryStatus {
	switch status {
	case CommandStatusAcked:
		return HistoryStatusAcked
	case CommandStatusExpired:
		return HistoryStatusExpired
	case CommandStatusFailed:
		return HistoryStatusFailed
	default:
		return HistoryStatusQueued
	}
}

// HistoryEvent es un registro normalizado de auditoría de copia.
// Corresponde a la tabla `echo_bridge.copy_history` en PostgreSQL.
type HistoryEvent struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Status    HistoryStatus `json:"status"`
	Master    string        `json:"master"`
	Slave     string        `json:"slave"`
	Action    string        `json:"action"`
	Symbol    string        `json:"symbol"`
	Volume    float64       `json:"volume"`
	CommandID string        `json:"command_id,omitempty"`
	Ticket    string        `json:"ticket,omitempty"`
	Code      ErrorCode     `json:"code,omitempty"`
	Message   string        `json:"message"`
}

// HistoryFilter restringe las consultas de historial.
type HistoryFilter struct {
	Account string
	Limit   int
}
