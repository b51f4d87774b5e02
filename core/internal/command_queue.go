package internal

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
	"github.com/xKoRx/echo-bridge/sdk/utils"
)

const clearedByOperator = "cleared by operator"

// terminalRecorder recibe cada comando que sale de la cola (ack, fallo, expiración, clear).
type terminalRecorder interface {
	RecordTerminal(ctx context.Context, cmd *domain.Command, ticket, message string)
}

// CommandQueue mantiene una secuencia FIFO de comandos no resueltos por cuenta.
//
// Cada cuenta tiene su propio lock: una cuenta lenta o bloqueada no afecta a las demás.
// La entrega es at-least-once: poll devuelve PENDING y DELIVERED y solo ack/expiración/clear
// retiran un comando.
type CommandQueue struct {
	cfg   QueueConfig
	cfgMu sync.RWMutex

	mu     sync.RWMutex
	queues map[string]*accountQueue

	journal   domain.CommandJournal
	recorder  terminalRecorder
	metrics   *Metrics
	telemetry *telemetry.Client
	clock     utils.Clock

	stats queueCounters
}

type accountQueue struct {
	mu    sync.Mutex
	order *list.List               // *domain.Command en orden de encolado
	byID  map[string]*list.Element // command_id → elemento
}

func newAccountQueue() *accountQueue {
	return &accountQueue{
		order: list.New(),
		byID:  make(map[string]*list.Element),
	}
}

func (q *accountQueue) push(cmd *domain.Command) {
	q.byID[cmd.CommandID] = q.order.PushBack(cmd)
}

func (q *accountQueue) remove(el *list.Element) *domain.Command {
	cmd := q.order.Remove(el).(*domain.Command)
	delete(q.byID, cmd.CommandID)
	return cmd
}

type queueCounters struct {
	added, retrieved, acknowledged, failed, expired, cleared atomic.Int64
}

// QueueStats contadores acumulados desde el arranque.
type QueueStats struct {
	Added        int64 `json:"added"`
	Retrieved    int64 `json:"retrieved"`
	Acknowledged int64 `json:"acknowledged"`
	Failed       int64 `json:"failed"`
	Expired      int64 `json:"expired"`
	Cleared      int64 `json:"cleared"`
}

// AccountQueueStatus vista de una cola.
type AccountQueueStatus struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Delivered int `json:"delivered"`
}

// QueueStatus vista global de todas las colas.
type QueueStatus struct {
	Accounts      map[string]AccountQueueStatus `json:"accounts"`
	TotalCommands int                           `json:"total_commands"`
	Stats         QueueStats                    `json:"stats"`
}

// QueueOption configura dependencias opcionales de la cola.
type QueueOption func(*CommandQueue)

// WithJournal persiste los comandos no resueltos.
func WithJournal(journal domain.CommandJournal) QueueOption {
	return func(q *CommandQueue) { q.journal = journal }
}

// WithTerminalRecorder recibe los comandos resueltos (auditoría).
func WithTerminalRecorder(r terminalRecorder) QueueOption {
	return func(q *CommandQueue) { q.recorder = r }
}

// WithQueueMetrics publica eventos en Prometheus.
func WithQueueMetrics(m *Metrics) QueueOption {
	return func(q *CommandQueue) { q.metrics = m }
}

// WithQueueClock reemplaza el reloj (tests de expiración).
func WithQueueClock(clock utils.Clock) QueueOption {
	return func(q *CommandQueue) { q.clock = clock }
}

// NewCommandQueue crea una cola vacía.
func NewCommandQueue(cfg QueueConfig, tel *telemetry.Client, opts ...QueueOption) *CommandQueue {
	q := &CommandQueue{
		cfg:       cfg,
		queues:    make(map[string]*accountQueue),
		telemetry: tel,
		clock:     utils.SystemClock,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *CommandQueue) getConfig() QueueConfig {
	q.cfgMu.RLock()
	defer q.cfgMu.RUnlock()
	return q.cfg
}

// UpdateConfig aplica retención, límites y reintentos sin reiniciar.
func (q *CommandQueue) UpdateConfig(cfg QueueConfig) {
	q.cfgMu.Lock()
	q.cfg = cfg
	q.cfgMu.Unlock()
}

func (q *CommandQueue) now() time.Time {
	return q.clock().UTC()
}

// accountQueue retorna la cola de la cuenta, creándola si create es true.
func (q *CommandQueue) accountQueue(account string, create bool) *accountQueue {
	q.mu.RLock()
	aq, ok := q.queues[account]
	q.mu.RUnlock()
	if ok || !create {
		return aq
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if aq, ok = q.queues[account]; !ok {
		aq = newAccountQueue()
		q.queues[account] = aq
	}
	return aq
}

func (q *CommandQueue) snapshotQueues() map[string]*accountQueue {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[string]*accountQueue, len(q.queues))
	for k, v := range q.queues {
		out[k] = v
	}
	return out
}

// Enqueue agrega el comando al final de la cola de cmd.Account y retorna su command_id.
//
// Errores: INVALID_ACCOUNT, QUEUE_FULL, QUEUE_WRITE_FAILED (journal tras reintentos).
// El comando solo es visible para poll después de quedar en el journal.
func (q *CommandQueue) Enqueue(ctx context.Context, cmd *domain.Command) (string, error) {
	if cmd == nil {
		return "", domain.NewError(domain.ErrInvalidPayload, "command is required")
	}
	account, err := domain.NormalizeAccountID(cmd.Account)
	if err != nil {
		return "", err
	}
	cfg := q.getConfig()

	ctx, span := q.telemetry.StartSpan(ctx, "core.queue.enqueue")
	defer span.End()

	stored := cmd.Clone()
	stored.Account = account
	stored.Status = domain.CommandStatusPending
	stored.DeliveryCount = 0
	stored.LastDeliveredAt = time.Time{}

	aq := q.accountQueue(account, true)
	aq.mu.Lock()
	defer aq.mu.Unlock()

	// Id y enqueued_at se asignan bajo el lock: Restore ordena por ellos y debe
	// reproducir el orden de la lista.
	if stored.CommandID == "" {
		stored.CommandID = utils.GenerateUUIDv7()
	}
	stored.EnqueuedAt = q.now()

	if _, dup := aq.byID[stored.CommandID]; dup {
		return "", domain.NewError(domain.ErrInvalidPayload, fmt.Sprintf("command %s already queued", stored.CommandID))
	}
	if cfg.MaxSize > 0 && aq.order.Len() >= cfg.MaxSize {
		q.telemetry.Warn(ctx, "Queue full, command rejected",
			semconv.Bridge.AccountID.String(account),
			semconv.Bridge.Count.Int(aq.order.Len()),
		)
		return "", domain.NewError(domain.ErrQueueFull,
			fmt.Sprintf("queue for account %s is full (%d commands)", account, cfg.MaxSize)).
			WithDetail("account", account)
	}

	if q.journal != nil {
		if err := q.withWriteRetry(ctx, "journal.put", func(opCtx context.Context) error {
			return q.journal.Put(opCtx, stored)
		}); err != nil {
			q.telemetry.RecordError(ctx, err)
			return "", domain.WrapError(domain.ErrQueueWriteFailed,
				fmt.Sprintf("failed to persist command for account %s", account), err)
		}
	}

	aq.push(stored)
	q.stats.added.Add(1)
	q.metrics.CommandEvent(queueEventEnqueued, 1)
	q.telemetry.BridgeMetrics().RecordTransition(ctx, string(domain.CommandStatusPending), 1)

	return stored.CommandID, nil
}

// Poll retorna hasta limit comandos no resueltos en orden FIFO y los marca DELIVERED.
//
// limit <= 0 usa queue.poll_limit. Los comandos vencidos se expiran antes de responder.
// Una cuenta sin trabajo retorna una lista vacía.
func (q *CommandQueue) Poll(ctx context.Context, account string, limit int) ([]*domain.Command, error) {
	account, err := domain.NormalizeAccountID(account)
	if err != nil {
		return nil, err
	}
	cfg := q.getConfig()
	limit = effectivePollLimit(limit, cfg.PollLimit)

	aq := q.accountQueue(account, false)
	if aq == nil {
		return []*domain.Command{}, nil
	}

	now := q.now()
	aq.mu.Lock()
	expired := q.expireLocked(aq, now, cfg.Retention)

	out := make([]*domain.Command, 0, min(limit, aq.order.Len()))
	for el := aq.order.Front(); el != nil && len(out) < limit; el = el.Next() {
		cmd := el.Value.(*domain.Command)
		cmd.Status = domain.CommandStatusDelivered
		cmd.DeliveryCount++
		cmd.LastDeliveredAt = now
		out = append(out, cmd.Clone())
	}
	aq.mu.Unlock()

	if q.journal != nil && len(out) > 0 {
		// Best-effort y fuera del lock: el journal solo necesita el comando, no el contador de entregas
		if err := q.journal.UpdateMany(ctx, out); err != nil {
			q.telemetry.Debug(ctx, "Journal update after poll failed",
				semconv.Bridge.AccountID.String(account),
				semconv.Bridge.Count.Int(len(out)),
				attribute.String("error", err.Error()),
			)
		}
	}

	q.finishExpired(ctx, expired)

	if len(out) > 0 {
		q.stats.retrieved.Add(int64(len(out)))
		q.metrics.CommandEvent(queueEventDelivered, len(out))
		q.telemetry.BridgeMetrics().RecordTransition(ctx, string(domain.CommandStatusDelivered), int64(len(out)))
	}
	return out, nil
}

// Peek retorna hasta limit comandos no resueltos sin modificar su estado.
func (q *CommandQueue) Peek(account string, limit int) []*domain.Command {
	aq := q.accountQueue(account, false)
	if aq == nil {
		return []*domain.Command{}
	}
	limit = effectivePollLimit(limit, q.getConfig().PollLimit)

	aq.mu.Lock()
	defer aq.mu.Unlock()
	out := make([]*domain.Command, 0, min(limit, aq.order.Len()))
	for el := aq.order.Front(); el != nil && len(out) < limit; el = el.Next() {
		out = append(out, el.Value.(*domain.Command).Clone())
	}
	return out
}

// Acknowledge resuelve un comando: ACKED si outcome es éxito, FAILED si no.
//
// Un command_id desconocido (o ya resuelto) retorna UNKNOWN_COMMAND sin cambiar estado
// ni generar auditoría.
func (q *CommandQueue) Acknowledge(ctx context.Context, account, commandID string, outcome domain.AckOutcome, ticket, message string) (*domain.Command, error) {
	account, err := domain.NormalizeAccountID(account)
	if err != nil {
		return nil, err
	}

	ctx, span := q.telemetry.StartSpan(ctx, "core.queue.ack")
	defer span.End()

	unknown := domain.NewError(domain.ErrUnknownCommand,
		fmt.Sprintf("command %s is not pending for account %s", commandID, account)).
		WithDetail("command_id", commandID)

	aq := q.accountQueue(account, false)
	if aq == nil {
		return nil, unknown
	}

	aq.mu.Lock()
	el, ok := aq.byID[commandID]
	if !ok {
		aq.mu.Unlock()
		return nil, unknown
	}
	cmd := aq.remove(el)
	cmd.Status = outcome.TerminalStatus()
	aq.mu.Unlock()

	q.deleteFromJournal(ctx, cmd.CommandID)

	latency := q.now().Sub(cmd.EnqueuedAt)
	if cmd.Status == domain.CommandStatusAcked {
		q.stats.acknowledged.Add(1)
		q.metrics.CommandEvent(queueEventAcked, 1)
	} else {
		q.stats.failed.Add(1)
		q.metrics.CommandEvent(queueEventFailed, 1)
	}
	q.telemetry.BridgeMetrics().RecordTransition(ctx, string(cmd.Status), 1)
	q.telemetry.BridgeMetrics().RecordAckLatency(ctx, float64(latency.Milliseconds()))

	q.telemetry.Info(ctx, "Command acknowledged",
		append(semconv.CommandAttributes(cmd.CommandID, cmd.Account, cmd.Action, cmd.Symbol),
			semconv.Bridge.Status.String(string(cmd.Status)),
			semconv.Bridge.Ticket.String(ticket),
			attribute.Int64("latency_ms", latency.Milliseconds()),
		)...,
	)

	if q.recorder != nil {
		q.recorder.RecordTerminal(ctx, cmd.Clone(), ticket, message)
	}
	return cmd.Clone(), nil
}

// ExpireStale expira en todas las cuentas los comandos que superaron la retención.
// Retorna la cantidad expirada. Solo toma el lock de una cuenta a la vez.
func (q *CommandQueue) ExpireStale(ctx context.Context) int {
	retention := q.getConfig().Retention
	total := 0
	for _, aq := range q.snapshotQueues() {
		now := q.now()
		aq.mu.Lock()
		expired := q.expireLocked(aq, now, retention)
		aq.mu.Unlock()

		q.finishExpired(ctx, expired)
		total += len(expired)
	}
	return total
}

// expireLocked retira de aq los comandos con now - enqueued_at > retention.
// Debe llamarse con aq.mu tomado.
func (q *CommandQueue) expireLocked(aq *accountQueue, now time.Time, retention time.Duration) []*domain.Command {
	if retention <= 0 {
		return nil
	}
	var expired []*domain.Command
	for el := aq.order.Front(); el != nil; {
		next := el.Next()
		cmd := el.Value.(*domain.Command)
		if now.Sub(cmd.EnqueuedAt) > retention {
			aq.remove(el)
			cmd.Status = domain.CommandStatusExpired
			expired = append(expired, cmd)
		}
		el = next
	}
	return expired
}

// finishExpired hace el trabajo sin lock de los comandos expirados: journal, auditoría y logs.
func (q *CommandQueue) finishExpired(ctx context.Context, expired []*domain.Command) {
	if len(expired) == 0 {
		return
	}
	for _, cmd := range expired {
		q.deleteFromJournal(ctx, cmd.CommandID)
		q.telemetry.Info(ctx, "Command expired",
			append(semconv.CommandAttributes(cmd.CommandID, cmd.Account, cmd.Action, cmd.Symbol),
				attribute.Int("delivery_count", cmd.DeliveryCount),
			)...,
		)
		if q.recorder != nil {
			q.recorder.RecordTerminal(ctx, cmd.Clone(), "", "not acknowledged within retention window")
		}
	}
	q.stats.expired.Add(int64(len(expired)))
	q.metrics.CommandEvent(queueEventExpired, len(expired))
	q.telemetry.BridgeMetrics().RecordTransition(ctx, string(domain.CommandStatusExpired), int64(len(expired)))
}

// Clear descarta todos los comandos de una cuenta. Se auditan como FAILED.
func (q *CommandQueue) Clear(ctx context.Context, account string) int {
	aq := q.accountQueue(account, false)
	if aq == nil {
		return 0
	}

	aq.mu.Lock()
	var cleared []*domain.Command
	for el := aq.order.Front(); el != nil; {
		next := el.Next()
		cmd := aq.remove(el)
		cmd.Status = domain.CommandStatusFailed
		cleared = append(cleared, cmd)
		el = next
	}
	aq.mu.Unlock()

	for _, cmd := range cleared {
		q.deleteFromJournal(ctx, cmd.CommandID)
		if q.recorder != nil {
			q.recorder.RecordTerminal(ctx, cmd.Clone(), "", clearedByOperator)
		}
	}
	if len(cleared) > 0 {
		q.stats.cleared.Add(int64(len(cleared)))
		q.metrics.CommandEvent(queueEventCleared, len(cleared))
		q.telemetry.Warn(ctx, "Queue cleared by operator",
			semconv.Bridge.AccountID.String(account),
			semconv.Bridge.Count.Int(len(cleared)),
		)
	}
	return len(cleared)
}

// PendingCount retorna los comandos no resueltos y no vencidos de una cuenta.
func (q *CommandQueue) PendingCount(ctx context.Context, account string) int {
	aq := q.accountQueue(account, false)
	if aq == nil {
		return 0
	}
	aq.mu.Lock()
	expired := q.expireLocked(aq, q.now(), q.getConfig().Retention)
	n := aq.order.Len()
	aq.mu.Unlock()

	q.finishExpired(ctx, expired)
	return n
}

// Depth retorna el total de comandos no resueltos en todas las cuentas.
func (q *CommandQueue) Depth() int {
	total := 0
	for _, aq := range q.snapshotQueues() {
		aq.mu.Lock()
		total += aq.order.Len()
		aq.mu.Unlock()
	}
	return total
}

// StatusAll retorna el estado por cuenta (solo cuentas con comandos) y los contadores.
func (q *CommandQueue) StatusAll() QueueStatus {
	status := QueueStatus{
		Accounts: make(map[string]AccountQueueStatus),
		Stats:    q.Stats(),
	}
	for account, aq := range q.snapshotQueues() {
		var s AccountQueueStatus
		aq.mu.Lock()
		for el := aq.order.Front(); el != nil; el = el.Next() {
			s.Total++
			if el.Value.(*domain.Command).Status == domain.CommandStatusDelivered {
				s.Delivered++
			} else {
				s.Pending++
			}
		}
		aq.mu.Unlock()
		if s.Total > 0 {
			status.Accounts[account] = s
			status.TotalCommands += s.Total
		}
	}
	return status
}

// Stats retorna los contadores acumulados.
func (q *CommandQueue) Stats() QueueStats {
	return QueueStats{
		Added:        q.stats.added.Load(),
		Retrieved:    q.stats.retrieved.Load(),
		Acknowledged: q.stats.acknowledged.Load(),
		Failed:       q.stats.failed.Load(),
		Expired:      q.stats.expired.Load(),
		Cleared:      q.stats.cleared.Load(),
	}
}

// Restore reconstruye las colas desde el journal en orden de encolado.
// Los comandos ya vencidos se expiran en el primer sweep.
func (q *CommandQueue) Restore(ctx context.Context) (int, error) {
	if q.journal == nil {
		return 0, nil
	}
	commands, err := q.journal.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore queue: %w", err)
	}
	sort.SliceStable(commands, func(a, b int) bool {
		return commands[a].EnqueuedAt.Before(commands[b].EnqueuedAt)
	})

	restored := 0
	for _, cmd := range commands {
		if cmd.Status.IsTerminal() || cmd.Account == "" || cmd.CommandID == "" {
			q.deleteFromJournal(ctx, cmd.CommandID)
			continue
		}
		if cmd.Status == "" {
			cmd.Status = domain.CommandStatusPending
		}
		aq := q.accountQueue(cmd.Account, true)
		aq.mu.Lock()
		if _, dup := aq.byID[cmd.CommandID]; !dup {
			aq.push(cmd)
			restored++
		}
		aq.mu.Unlock()
	}
	if restored > 0 {
		q.telemetry.Info(ctx, "Command queue restored from journal",
			semconv.Bridge.Count.Int(restored),
		)
	}
	return restored, nil
}

func (q *CommandQueue) deleteFromJournal(ctx context.Context, commandID string) {
	if q.journal == nil || commandID == "" {
		return
	}
	if err := q.withWriteRetry(ctx, "journal.delete", func(opCtx context.Context) error {
		return q.journal.Delete(opCtx, commandID)
	}); err != nil {
		q.telemetry.Error(ctx, "Failed to delete command from journal", err,
			semconv.Bridge.CommandID.String(commandID),
		)
	}
}

// withWriteRetry ejecuta fn hasta queue.write_retries veces con backoff lineal.
// Errores de contexto no se reintentan.
func (q *CommandQueue) withWriteRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	cfg := q.getConfig()
	maxAttempts := cfg.WriteRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	opCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(opCtx)
		if lastErr == nil {
			if attempt > 1 {
				q.telemetry.Info(ctx, "Queue write recovered",
					semconv.Bridge.Operation.String(operation),
					semconv.Bridge.Attempt.Int(attempt),
				)
			}
			return nil
		}
		if !isRetryableWriteError(lastErr) || attempt == maxAttempts {
			break
		}

		backoff := cfg.WriteBackoff * time.Duration(attempt)
		q.telemetry.Warn(ctx, "Queue write retry",
			semconv.Bridge.Operation.String(operation),
			semconv.Bridge.Attempt.Int(attempt),
			attribute.String("error", lastErr.Error()),
			attribute.Int64("backoff_ms", backoff.Milliseconds()),
		)
		q.telemetry.BridgeMetrics().RecordWriteRetry(ctx, operation)

		if backoff <= 0 {
			continue
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s aborted: %w", operation, ctx.Err())
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, maxAttempts, lastErr)
}

func isRetryableWriteError(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func effectivePollLimit(requested, configured int) int {
	limit := requested
	if limit <= 0 {
		limit = configured
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxPollLimit {
		limit = maxPollLimit
	}
	return limit
}
