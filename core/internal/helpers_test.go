package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/telemetry"
)

// fakeClock es un reloj manual para tests de expiración y liveness.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func testTelemetry() *telemetry.Client {
	return telemetry.NewNoop(nil)
}

func testQueueConfig() QueueConfig {
	return QueueConfig{
		Retention:      5 * time.Minute,
		ReaperInterval: time.Minute,
		MaxSize:        1000,
		PollLimit:      10,
		WriteRetries:   3,
		WriteBackoff:   0,
	}
}

// stubJournal es un journal en memoria que puede fallar los primeros N Put
// y retener los Put de una cuenta hasta que el test los libere.
type stubJournal struct {
	mu          sync.Mutex
	cmds        map[string]*domain.Command
	failPuts    int
	putCalls    int
	updateCalls int
	deletes     []string

	holdAccount string
	held        chan struct{}
	release     chan struct{}
}

func newStubJournal() *stubJournal {
	return &stubJournal{cmds: make(map[string]*domain.Command)}
}

// holdPuts bloquea los Put de account; held se cierra cuando el primero queda retenido.
func (j *stubJournal) holdPuts(account string) (held, release chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.holdAccount = account
	j.held = make(chan struct{})
	j.release = make(chan struct{})
	return j.held, j.release
}

func (j *stubJournal) Put(_ context.Context, cmd *domain.Command) error {
	j.mu.Lock()
	if j.release != nil && cmd.Account == j.holdAccount {
		held, release := j.held, j.release
		j.held = nil
		j.mu.Unlock()
		if held != nil {
			close(held)
		}
		<-release
		j.mu.Lock()
	}
	defer j.mu.Unlock()
	j.putCalls++
	if j.failPuts > 0 {
		j.failPuts--
		return errors.New("disk busy")
	}
	j.cmds[cmd.CommandID] = cmd.Clone()
	return nil
}

func (j *stubJournal) UpdateMany(_ context.Context, cmds []*domain.Command) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.updateCalls++
	for _, cmd := range cmds {
		if _, ok := j.cmds[cmd.CommandID]; ok {
			j.cmds[cmd.CommandID] = cmd.Clone()
		}
	}
	return nil
}

func (j *stubJournal) get(id string) *domain.Command {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cmds[id]
}

func (j *stubJournal) Delete(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.cmds, id)
	j.deletes = append(j.deletes, id)
	return nil
}

func (j *stubJournal) LoadAll(_ context.Context) ([]*domain.Command, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*domain.Command, 0, len(j.cmds))
	for _, c := range j.cmds {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (j *stubJournal) size() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cmds)
}

// terminalEvent es una llamada registrada a RecordTerminal.
type terminalEvent struct {
	commandID string
	status    domain.CommandStatus
	ticket    string
	message   string
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []terminalEvent
}

func (r *recordingRecorder) RecordTerminal(_ context.Context, cmd *domain.Command, ticket, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, terminalEvent{cmd.CommandID, cmd.Status, ticket, message})
}

func (r *recordingRecorder) all() []terminalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]terminalEvent(nil), r.events...)
}

func newCommand(account, action, symbol string) *domain.Command {
	return &domain.Command{
		Account: account,
		Action:  action,
		Symbol:  symbol,
		Payload: map[string]interface{}{"action": action, "symbol": symbol, "volume": 0.1},
	}
}

// stubRegistry implementa livenessView con estado fijo por cuenta.
type stubRegistry struct {
	accounts map[string]domain.AccountState
	offline  map[string]bool
	panicOn  string
}

func (r *stubRegistry) AccountExists(id string) bool {
	if id == r.panicOn {
		panic("registry exploded")
	}
	_, ok := r.accounts[id]
	return ok
}

func (r *stubRegistry) IsAlive(id string) bool {
	return !r.offline[id]
}

func (r *stubRegistry) GetStatus(id string) (domain.AccountState, bool) {
	s, ok := r.accounts[id]
	return s, ok
}
