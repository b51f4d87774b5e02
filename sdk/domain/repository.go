package domain

import "context"

// AccountRepository persiste las cuentas del Liveness Registry.
//
// Implementaciones:
//   - SQLite: en core/internal/repository/sqlite_accounts.go
type AccountRepository interface {
	// Upsert inserta o reemplaza una cuenta completa.
	Upsert(ctx context.Context, account *SlaveAccount) error

	// Get obtiene una cuenta. Retorna nil si no existe.
	Get(ctx context.Context, accountID string) (*SlaveAccount, error)

	// List retorna todas las cuentas ordenadas por account_id.
	List(ctx context.Context) ([]*SlaveAccount, error)

	// Delete elimina una cuenta y sus copy pairs.
	Delete(ctx context.Context, accountID string) error
}

// CopyPairRepository persiste los vínculos master → slave.
type CopyPairRepository interface {
	// Create inserta un par y retorna la fila guardada. Un par duplicado no se modifica
	// y se retorna tal como está (incluido enabled).
	Create(ctx context.Context, pair *CopyPair) (*CopyPair, error)

	// SetEnabled habilita o deshabilita un par.
	SetEnabled(ctx context.Context, id int64, enabled bool) error

	// Delete elimina un par.
	Delete(ctx context.Context, id int64) error

	// ListByMaster retorna los pares habilitados de un master, ordenados por id.
	ListByMaster(ctx context.Context, masterAccount string) ([]*CopyPair, error)

	// List retorna todos los pares.
	List(ctx context.Context) ([]*CopyPair, error)
}

// HistoryRepository persiste eventos de auditoría.
//
// Implementaciones:
//   - PostgreSQL: en core/internal/repository/history_postgres.go
type HistoryRepository interface {
	// Insert agrega un evento. Un evento repetido (command_id, status) es un no-op.
	Insert(ctx context.Context, event *HistoryEvent) error

	// List retorna eventos del más reciente al más antiguo.
	List(ctx context.Context, filter HistoryFilter) ([]*HistoryEvent, error)
}

// CommandJournal persiste los comandos no resueltos de la cola.
//
// Implementaciones:
//   - bbolt: en core/internal/repository/bolt_journal.go
type CommandJournal interface {
	// Put escribe (o reescribe) un comando.
	Put(ctx context.Context, cmd *Command) error

	// UpdateMany reescribe en una sola transacción los comandos que siguen en el journal.
	// Los ids que ya no están se omiten: una actualización tardía nunca revive un comando resuelto.
	UpdateMany(ctx context.Context, cmds []*Command) error

	// Delete elimina un comando. Eliminar un id inexistente no es error.
	Delete(ctx context.Context, commandID string) error

	// LoadAll retorna todos los comandos persistidos ordenados por enqueued_at.
	LoadAll(ctx context.Context) ([]*Command, error)
}
