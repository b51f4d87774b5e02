package internal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xKoRx/echo-bridge/sdk/domain"
)

type stubHistoryRepo struct {
	mu       sync.Mutex
	inserted []*domain.HistoryEvent
	err      error
}

func (r *stubHistoryRepo) Insert(_ context.Context, ev *domain.HistoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.inserted = append(r.inserted, ev)
	return nil
}

func (r *stubHistoryRepo) List(_ context.Context, _ domain.HistoryFilter) ([]*domain.HistoryEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.inserted, nil
}

func TestHistoryDeduplicatesCommandStatus(t *testing.T) {
	ctx := context.Background()
	repo := &stubHistoryRepo{}
	h := NewHistoryRecorder(10, repo, testTelemetry())

	cmd := &domain.Command{CommandID: "c1", Account: "S1", CopyFrom: "M1", Status: domain.CommandStatusAcked}
	h.RecordTerminal(ctx, cmd, "123", "ok")
	h.RecordTerminal(ctx, cmd, "123", "ok")

	assert.Len(t, repo.inserted, 1)
	events := h.List(ctx, domain.HistoryFilter{})
	require.Len(t, events, 1)
	assert.Equal(t, domain.HistoryStatusAcked, events[0].Status)
	assert.Equal(t, "123", events[0].Ticket)
	assert.NotEmpty(t, events[0].ID)
}

func TestHistoryRingBufferEvictsOldest(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryRecorder(3, nil, testTelemetry())

	for _, id := range []string{"a", "b", "c", "d"} {
		h.Record(ctx, &domain.HistoryEvent{CommandID: id, Status: domain.HistoryStatusQueued, Slave: "S1"})
	}
	events := h.List(ctx, domain.HistoryFilter{})
	require.Len(t, events, 3)
	assert.Equal(t, "d", events[0].CommandID)
	assert.Equal(t, "b", events[2].CommandID)

	// La clave evictada puede registrarse de nuevo
	assert.True(t, h.Record(ctx, &domain.HistoryEvent{CommandID: "a", Status: domain.HistoryStatusQueued}))
}

func TestHistoryFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryRecorder(10, nil, testTelemetry())
	h.Record(ctx, &domain.HistoryEvent{CommandID: "1", Status: domain.HistoryStatusQueued, Master: "M1", Slave: "S1"})
	h.Record(ctx, &domain.HistoryEvent{CommandID: "2", Status: domain.HistoryStatusQueued, Master: "M1", Slave: "S2"})
	h.Record(ctx, &domain.HistoryEvent{CommandID: "3", Status: domain.HistoryStatusQueued, Master: "M2", Slave: "S1"})

	bySlave := h.List(ctx, domain.HistoryFilter{Account: "S1"})
	assert.Len(t, bySlave, 2)

	byMaster := h.List(ctx, domain.HistoryFilter{Account: "M1", Limit: 1})
	require.Len(t, byMaster, 1)
	assert.Equal(t, "2", byMaster[0].CommandID)
}

func TestHistoryStoreFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	repo := &stubHistoryRepo{err: errors.New("connection refused")}
	h := NewHistoryRecorder(10, repo, testTelemetry())

	assert.True(t, h.Record(ctx, &domain.HistoryEvent{CommandID: "1", Status: domain.HistoryStatusExpired}))
	events := h.List(ctx, domain.HistoryFilter{})
	require.Len(t, events, 1)
	assert.Equal(t, domain.HistoryStatusExpired, events[0].Status)
}
