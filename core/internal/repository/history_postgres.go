package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xKoRx/echo-bridge/sdk/domain"
)

const defaultHistoryLimit = 100

type postgresHistoryRepo struct {
	db *sql.DB
}

// Insert agrega un evento. (command_id, status) repetido no genera fila nueva.
func (r *postgresHistoryRepo) Insert(ctx context.Context, event *domain.HistoryEvent) error {
	if event == nil {
		return fmt.Errorf("nil history event")
	}
	query := `
		INSERT INTO echo_bridge.copy_history (
			id, occurred_at, status, master, slave,
			action, symbol, volume, command_id, ticket,
			error_code, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (command_id, status) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp.UTC(),
		string(event.Status),
		event.Master,
		event.Slave,
		event.Action,
		event.Symbol,
		event.Volume,
		nullIfEmpty(event.CommandID),
		nullIfEmpty(event.Ticket),
		nullIfEmpty(string(event.Code)),
		event.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history event: %w", err)
	}
	return nil
}

// List retorna eventos del más reciente al más antiguo.
func (r *postgresHistoryRepo) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.HistoryEvent, error) {
	query, args := buildHistoryQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var events []*domain.HistoryEvent
	for rows.Next() {
		var (
			ev        domain.HistoryEvent
			status    string
			commandID sql.NullString
			ticket    sql.NullString
			code      sql.NullString
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.Timestamp,
			&status,
			&ev.Master,
			&ev.Slave,
			&ev.Action,
			&ev.Symbol,
			&ev.Volume,
			&commandID,
			&ticket,
			&code,
			&ev.Message,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history event: %w", err)
		}
		ev.Status = domain.HistoryStatus(status)
		ev.CommandID = commandID.String
		ev.Ticket = ticket.String
		ev.Code = domain.ErrorCode(code.String)
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

func buildHistoryQuery(filter domain.HistoryFilter) (string, []interface{}) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`SELECT id, occurred_at, status, master, slave, action, symbol, volume,
		command_id, ticket, error_code, message
		FROM echo_bridge.copy_history`)
	if filter.Account != "" {
		args = append(args, filter.Account)
		sb.WriteString(" WHERE slave = $1 OR master = $1")
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY occurred_at DESC, id DESC LIMIT $%d", len(args))
	return sb.String(), args
}
