package semconv

import "go.opentelemetry.io/otel/attribute"

// Bridge contiene atributos semánticos específicos del bridge de comandos.
//
// # Identificadores
//
//   - bridge.command_id: UUIDv7 del comando
//   - bridge.account_id: cuenta slave destino
//   - bridge.master_account: cuenta master de origen (copy_from)
//   - bridge.pair_id: id del copy pair
//
// # Trading
//
//   - bridge.action: acción de la señal (BUY, SELL, CLOSE, ...)
//   - bridge.symbol: símbolo del instrumento
//   - bridge.volume: volumen de la señal
//   - bridge.ticket: ticket reportado por el EA
//
// # Estado
//
//   - bridge.status: estado del comando o de la cuenta
//   - bridge.error_code: código de error del dominio
//   - bridge.component: componente (queue/dispatcher/registry/http/reaper)
//
// # Uso
//
//	client.Info(ctx, "command queued",
//	    semconv.Bridge.CommandID.String(cmd.CommandID),
//	    semconv.Bridge.AccountID.String(cmd.Account),
//	)
var Bridge = bridgeAttributes{
	// Identificadores
	CommandID:     attribute.Key("bridge.command_id"),
	AccountID:     attribute.Key("bridge.account_id"),
	MasterAccount: attribute.Key("bridge.master_account"),
	PairID:        attribute.Key("bridge.pair_id"),

	// Trading
	Action: attribute.Key("bridge.action"),
	Symbol: attribute.Key("bridge.symbol"),
	Volume: attribute.Key("bridge.volume"),
	Ticket: attribute.Key("bridge.ticket"),

	// Estado
	Status:    attribute.Key("bridge.status"),
	ErrorCode: attribute.Key("bridge.error_code"),
	Component: attribute.Key("bridge.component"),

	// Adicionales
	Attempt:   attribute.Key("bridge.attempt"),
	Count:     attribute.Key("bridge.count"),
	Operation: attribute.Key("bridge.operation"),
	Reason:    attribute.Key("bridge.reason"),
}

type bridgeAttributes struct {
	// Identificadores
	CommandID     attribute.Key // UUIDv7 del comando
	AccountID     attribute.Key // Cuenta slave destino
	MasterAccount attribute.Key // Cuenta master de origen
	PairID        attribute.Key // Id del copy pair

	// Trading
	Action attribute.Key // Acción de la señal
	Symbol attribute.Key // Símbolo
	Volume attribute.Key // Volumen
	Ticket attribute.Key // Ticket MT4/MT5

	// Estado
	Status    attribute.Key // Estado de comando o cuenta
	ErrorCode attribute.Key // Código de error
	Component attribute.Key // Componente emisor

	// Adicionales
	Attempt   attribute.Key // Número de intento
	Count     attribute.Key // Cantidad de elementos afectados
	Operation attribute.Key // Operación interna (journal.put, ...)
	Reason    attribute.Key // Motivo de una decisión
}

// ComponentValues valores válidos para bridge.component
var ComponentValues = struct {
	Core       string
	Queue      string
	Dispatcher string
	Registry   string
	Reaper     string
	HTTP       string
	History    string
}{
	Core:       "core",
	Queue:      "queue",
	Dispatcher: "dispatcher",
	Registry:   "registry",
	Reaper:     "reaper",
	HTTP:       "http",
	History:    "history",
}

// CommandAttributes crea el conjunto de atributos de un comando.
func CommandAttributes(commandID, account, action, symbol string) []attribute.KeyValue {
	return []attribute.KeyValue{
		Bridge.CommandID.String(commandID),
		Bridge.AccountID.String(account),
		Bridge.Action.String(action),
		Bridge.Symbol.String(symbol),
	}
}
