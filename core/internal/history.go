package internal

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
	"github.com/xKoRx/echo-bridge/sdk/utils"
)

const historyStoreTimeout = 2 * time.Second

// HistoryRecorder registra eventos de auditoría en un ring buffer y, si hay repositorio,
// en PostgreSQL. Nunca falla al caller: los errores del store se loguean.
//
// Un mismo (command_id, status) se registra una sola vez.
type HistoryRecorder struct {
	mu     sync.Mutex
	ring   []*domain.HistoryEvent
	next   int
	filled bool
	seen   map[string]struct{}

	repo      domain.HistoryRepository
	telemetry *telemetry.Client
	clock     utils.Clock
}

// NewHistoryRecorder crea un recorder con capacidad size en memoria. repo puede ser nil.
func NewHistoryRecorder(size int, repo domain.HistoryRepository, tel *telemetry.Client) *HistoryRecorder {
	if size <= 0 {
		size = 1000
	}
	return &HistoryRecorder{
		ring:      make([]*domain.HistoryEvent, size),
		seen:      make(map[string]struct{}, size),
		repo:      repo,
		telemetry: tel,
		clock:     utils.SystemClock,
	}
}

// Record agrega un evento. Completa id y timestamp si faltan.
// Retorna false si el evento ya estaba registrado.
func (h *HistoryRecorder) Record(ctx context.Context, ev *domain.HistoryEvent) bool {
	if h == nil || ev == nil {
		return false
	}
	if ev.ID == "" {
		ev.ID = utils.GenerateUUIDv7()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.clock().UTC()
	}

	key := dedupeKey(ev)
	h.mu.Lock()
	if key != "" {
		if _, dup := h.seen[key]; dup {
			h.mu.Unlock()
			return false
		}
		h.seen[key] = struct{}{}
	}
	if evicted := h.ring[h.next]; evicted != nil {
		if k := dedupeKey(evicted); k != "" {
			delete(h.seen, k)
		}
	}
	stored := *ev
	h.ring[h.next] = &stored
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.filled = true
	}
	h.mu.Unlock()

	if h.repo != nil {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyStoreTimeout)
		defer cancel()
		if err := h.repo.Insert(storeCtx, &stored); err != nil {
			h.telemetry.Warn(ctx, "History store insert failed",
				semconv.Bridge.Component.String(semconv.ComponentValues.History),
				semconv.Bridge.CommandID.String(ev.CommandID),
				attribute.String("error", err.Error()),
			)
		}
	}
	return true
}

func dedupeKey(ev *domain.HistoryEvent) string {
	if ev.CommandID == "" {
		return ""
	}
	return ev.CommandID + "|" + string(ev.Status)
}

// RecordDispatch registra la decisión del dispatcher (queued o rejected).
func (h *HistoryRecorder) RecordDispatch(ctx context.Context, copyFrom, account string, payload map[string]interface{}, result domain.DispatchResult) {
	status := domain.HistoryStatusQueued
	if !result.Success {
		status = domain.HistoryStatusRejected
	}
	cmd := &domain.Command{Payload: payload}
	h.Record(ctx, &domain.HistoryEvent{
		Status:    status,
		Master:    copyFrom,
		Slave:     account,
		Action:    utils.ExtractString(payload, domain.FieldAction),
		Symbol:    utils.ExtractString(payload, domain.FieldSymbol),
		Volume:    cmd.Volume(),
		CommandID: result.CommandID,
		Code:      result.Code,
		Message:   result.Message,
	})
}

// RecordTerminal registra un comando que salió de la cola.
func (h *HistoryRecorder) RecordTerminal(ctx context.Context, cmd *domain.Command, ticket, message string) {
	if cmd == nil {
		return
	}
	h.Record(ctx, &domain.HistoryEvent{
		Status:    domain.HistoryStatusFor(cmd.Status),
		Master:    cmd.CopyFrom,
		Slave:     cmd.Account,
		Action:    cmd.Action,
		Symbol:    cmd.Symbol,
		Volume:    cmd.Volume(),
		CommandID: cmd.CommandID,
		Ticket:    ticket,
		Message:   message,
	})
}

// List retorna eventos del más reciente al más antiguo.
// Usa el store si está configurado y responde; si no, el buffer en memoria.
func (h *HistoryRecorder) List(ctx context.Context, filter domain.HistoryFilter) []*domain.HistoryEvent {
	if h.repo != nil {
		events, err := h.repo.List(ctx, filter)
		if err == nil {
			return events
		}
		h.telemetry.Warn(ctx, "History store query failed, serving memory buffer",
			attribute.String("error", err.Error()),
		)
	}
	return h.listMemory(filter)
}

func (h *HistoryRecorder) listMemory(filter domain.HistoryFilter) []*domain.HistoryEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.filled {
		n = len(h.ring)
	}
	out := make([]*domain.HistoryEvent, 0, min(n, max(filter.Limit, 0)))
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + len(h.ring)) % len(h.ring)
		ev := h.ring[idx]
		if filter.Account != "" && ev.Slave != filter.Account && ev.Master != filter.Account {
			continue
		}
		clone := *ev
		out = append(out, &clone)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}
