package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CommandStatus representa el estado de un comando dentro de la cola.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "PENDING"   // Encolado, nunca entregado
	CommandStatusDelivered CommandStatus = "DELIVERED" // Devuelto por al menos un poll, sin ack
	CommandStatusAcked     CommandStatus = "ACKED"     // Confirmado con éxito por el EA
	CommandStatusFailed    CommandStatus = "FAILED"    // Confirmado con fallo por el EA
	CommandStatusExpired   CommandStatus = "EXPIRED"   // Superó la ventana de retención
)

// IsTerminal reporta si el estado ya no admite transiciones.
func (s CommandStatus) IsTerminal() bool {
	switch s {
	case CommandStatusAcked, CommandStatusFailed, CommandStatusExpired:
		return true
	default:
		return false
	}
}

// AckOutcome es el resultado reportado por el EA al confirmar un comando.
type AckOutcome string

const (
	AckOutcomeSuccess AckOutcome = "success"
	AckOutcomeFailure AckOutcome = "failure"
)

// ParseAckOutcome interpreta el campo status enviado por el EA.
//
// success/ok/executed/acked (sin importar mayúsculas) son éxito; cualquier otro valor es fallo.
func ParseAckOutcome(status string) AckOutcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "ok", "executed", "acked", "true":
		return AckOutcomeSuccess
	default:
		return AckOutcomeFailure
	}
}

// TerminalStatus retorna el estado terminal correspondiente al outcome.
func (o AckOutcome) TerminalStatus() CommandStatus {
	if o == AckOutcomeSuccess {
		return CommandStatusAcked
	}
	return CommandStatusFailed
}

// Claves reservadas del wire format. Los campos de la señal con estos nombres se sobrescriben.
const (
	FieldAccount       = "account"
	FieldAction        = "action"
	FieldSymbol        = "symbol"
	FieldTimestamp     = "timestamp"
	FieldCopyFrom      = "copy_from"
	FieldCommandID     = "command_id"
	FieldStatus        = "status"
	FieldDeliveryCount = "delivery_count"
	FieldVolume        = "volume"
)

var reservedFields = map[string]struct{}{
	FieldAccount:       {},
	FieldAction:        {},
	FieldSymbol:        {},
	FieldTimestamp:     {},
	FieldCopyFrom:      {},
	FieldCommandID:     {},
	FieldStatus:        {},
	FieldDeliveryCount: {},
}

// NoMasterAccount es el copy_from usado cuando el origen no declara master.
const NoMasterAccount = "-"

// Command es una instrucción destinada a una única cuenta slave.
//
// El Dispatcher lo construye y la cola es su dueña hasta que se resuelve.
// Payload conserva los campos de la señal original (volume, order_type, tp, sl, ...)
// que el bridge no interpreta.
type Command struct {
	CommandID string
	Account   string
	Action    string
	Symbol    string
	CopyFrom  string
	Timestamp time.Time
	Payload   map[string]interface{}

	// Estado de entrega (propiedad de la cola)
	Status          CommandStatus
	EnqueuedAt      time.Time
	DeliveryCount   int
	LastDeliveredAt time.Time
}

// Clone retorna una copia independiente del comando (Payload incluido, copia superficial de valores).
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	out := *c
	out.Payload = ClonePayload(c.Payload)
	return &out
}

// Volume retorna el campo volume de la señal si es numérico.
func (c *Command) Volume() float64 {
	if c == nil || c.Payload == nil {
		return 0
	}
	switch v := c.Payload[FieldVolume].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// ToWire construye el objeto JSON que recibe el EA.
//
// Forma: {account, action, symbol, timestamp, copy_from, command_id, status, delivery_count, ...campos de la señal}
func (c *Command) ToWire() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Payload)+8)
	for k, v := range c.Payload {
		if _, reserved := reservedFields[k]; reserved {
			continue
		}
		out[k] = v
	}
	out[FieldAccount] = c.Account
	out[FieldAction] = c.Action
	out[FieldSymbol] = c.Symbol
	out[FieldTimestamp] = c.Timestamp.UTC().Format(time.RFC3339Nano)
	out[FieldCopyFrom] = c.CopyFrom
	out[FieldCommandID] = c.CommandID
	if c.Status != "" {
		out[FieldStatus] = string(c.Status)
	}
	out[FieldDeliveryCount] = c.DeliveryCount
	return out
}

// MarshalJSON serializa el comando en su forma de wire.
func (c *Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToWire())
}

// UnmarshalJSON reconstruye un comando desde su forma de wire.
func (c *Command) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}

	cmd := Command{Payload: make(map[string]interface{})}
	for k, v := range raw {
		switch k {
		case FieldAccount:
			cmd.Account = stringField(v)
		case FieldAction:
			cmd.Action = stringField(v)
		case FieldSymbol:
			cmd.Symbol = stringField(v)
		case FieldCopyFrom:
			cmd.CopyFrom = stringField(v)
		case FieldCommandID:
			cmd.CommandID = stringField(v)
		case FieldStatus:
			cmd.Status = CommandStatus(stringField(v))
		case FieldDeliveryCount:
			if n, ok := v.(float64); ok {
				cmd.DeliveryCount = int(n)
			}
		case FieldTimestamp:
			ts, err := time.Parse(time.RFC3339Nano, stringField(v))
			if err != nil {
				return fmt.Errorf("decode command timestamp: %w", err)
			}
			cmd.Timestamp = ts.UTC()
		default:
			cmd.Payload[k] = v
		}
	}
	*c = cmd
	return nil
}

// ClonePayload copia el mapa de campos de la señal.
func ClonePayload(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringField(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
