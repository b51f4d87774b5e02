package internal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xKoRx/echo-bridge/sdk/domain"
)

func newTestQueue(t *testing.T, opts ...QueueOption) *CommandQueue {
	t.Helper()
	return NewCommandQueue(testQueueConfig(), testTelemetry(), opts...)
}

func commandIDs(cmds []*domain.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.CommandID
	}
	return out
}

func TestQueuePollIsFIFOAndAtLeastOnce(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	id1, err := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, newCommand("S1", "SELL", "GBPUSD"))
	require.NoError(t, err)

	first, err := q.Poll(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{id1, id2}, commandIDs(first))
	assert.Equal(t, domain.CommandStatusDelivered, first[0].Status)
	assert.Equal(t, 1, first[0].DeliveryCount)

	// Sin ack el comando sigue disponible
	second, err := q.Poll(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{id1, id2}, commandIDs(second))
	assert.Equal(t, 2, second[0].DeliveryCount)
}

func TestQueueAckRemovesOnlyNamedCommand(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	id1, _ := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	id2, _ := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))

	_, err := q.Poll(ctx, "S1", 0)
	require.NoError(t, err)

	acked, err := q.Acknowledge(ctx, "S1", id1, domain.AckOutcomeSuccess, "555", "filled")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandStatusAcked, acked.Status)

	rest, err := q.Poll(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{id2}, commandIDs(rest))
}

func TestQueueAckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rec := &recordingRecorder{}
	q := newTestQueue(t, WithTerminalRecorder(rec))

	id, _ := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))

	_, err := q.Acknowledge(ctx, "S1", id, domain.AckOutcomeFailure, "", "no money")
	require.NoError(t, err)

	_, err = q.Acknowledge(ctx, "S1", id, domain.AckOutcomeSuccess, "", "")
	assert.True(t, domain.IsCode(err, domain.ErrUnknownCommand))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.CommandStatusFailed, events[0].status)
	assert.Equal(t, "no money", events[0].message)
	assert.Equal(t, int64(1), q.Stats().Failed)
}

func TestQueueAckUnknownAccount(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Acknowledge(context.Background(), "nobody", "x", domain.AckOutcomeSuccess, "", "")
	assert.True(t, domain.IsCode(err, domain.ErrUnknownCommand))
}

func TestQueueEmptyPollIsNotAnError(t *testing.T) {
	q := newTestQueue(t)
	cmds, err := q.Poll(context.Background(), "S9", 0)
	require.NoError(t, err)
	assert.Empty(t, cmds)
	assert.NotNil(t, cmds)
}

func TestQueueRejectsInvalidAccount(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Enqueue(context.Background(), newCommand(" ", "BUY", "EURUSD"))
	assert.True(t, domain.IsCode(err, domain.ErrInvalidAccount))

	_, err = q.Poll(context.Background(), "", 0)
	assert.True(t, domain.IsCode(err, domain.ErrInvalidAccount))
}

func TestQueueExpiryIsLazyAndAudited(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	rec := &recordingRecorder{}
	q := newTestQueue(t, WithQueueClock(clock.Now), WithTerminalRecorder(rec))

	id, _ := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	clock.Advance(4 * time.Minute)
	fresh, _ := q.Enqueue(ctx, newCommand("S1", "SELL", "EURUSD"))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, q.PendingCount(ctx, "S1"))

	cmds, err := q.Poll(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh}, commandIDs(cmds))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].commandID)
	assert.Equal(t, domain.CommandStatusExpired, events[0].status)
	assert.Equal(t, int64(1), q.Stats().Expired)

	_, err = q.Acknowledge(ctx, "S1", id, domain.AckOutcomeSuccess, "", "")
	assert.True(t, domain.IsCode(err, domain.ErrUnknownCommand))
}

func TestQueueExpireStaleSweepsAllAccounts(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(t, WithQueueClock(clock.Now))

	for _, acc := range []string{"S1", "S2", "S3"} {
		_, err := q.Enqueue(ctx, newCommand(acc, "BUY", "EURUSD"))
		require.NoError(t, err)
	}
	clock.Advance(5*time.Minute + time.Second)

	assert.Equal(t, 3, q.ExpireStale(ctx))
	assert.Equal(t, 0, q.Depth())
}

func TestQueueFull(t *testing.T) {
	ctx := context.Background()
	cfg := testQueueConfig()
	cfg.MaxSize = 2
	q := NewCommandQueue(cfg, testTelemetry())

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	assert.True(t, domain.IsCode(err, domain.ErrQueueFull))

	// Otra cuenta no se ve afectada
	_, err = q.Enqueue(ctx, newCommand("S2", "BUY", "EURUSD"))
	assert.NoError(t, err)
}

func TestQueueJournalRetryRecovers(t *testing.T) {
	ctx := context.Background()
	journal := newStubJournal()
	journal.failPuts = 2
	q := newTestQueue(t, WithJournal(journal))

	id, err := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	require.NoError(t, err)
	assert.Equal(t, 3, journal.putCalls)
	assert.Equal(t, 1, journal.size())

	cmds, _ := q.Poll(ctx, "S1", 0)
	assert.Equal(t, []string{id}, commandIDs(cmds))
}

func TestQueueJournalFailureSurfacesWriteFailed(t *testing.T) {
	ctx := context.Background()
	journal := newStubJournal()
	journal.failPuts = 10
	q := newTestQueue(t, WithJournal(journal))

	_, err := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrQueueWriteFailed))
	assert.Equal(t, 3, journal.putCalls)

	cmds, _ := q.Poll(ctx, "S1", 0)
	assert.Empty(t, cmds)
}

func TestQueueAckDeletesFromJournal(t *testing.T) {
	ctx := context.Background()
	journal := newStubJournal()
	q := newTestQueue(t, WithJournal(journal))

	id, _ := q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	_, err := q.Acknowledge(ctx, "S1", id, domain.AckOutcomeSuccess, "1", "")
	require.NoError(t, err)
	assert.Equal(t, 0, journal.size())
	assert.Contains(t, journal.deletes, id)
}

func TestQueueClear(t *testing.T) {
	ctx := context.Background()
	rec := &recordingRecorder{}
	q := newTestQueue(t, WithTerminalRecorder(rec))

	for i := 0; i < 3; i++ {
		_, _ = q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	}
	assert.Equal(t, 3, q.Clear(ctx, "S1"))
	assert.Equal(t, 0, q.PendingCount(ctx, "S1"))
	assert.Equal(t, 0, q.Clear(ctx, "S1"))

	events := rec.all()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, domain.CommandStatusFailed, ev.status)
		assert.Equal(t, clearedByOperator, ev.message)
	}
}

func TestQueuePeekDoesNotDeliver(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	_, _ = q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))

	peeked := q.Peek("S1", 0)
	require.Len(t, peeked, 1)
	assert.Equal(t, domain.CommandStatusPending, peeked[0].Status)

	status := q.StatusAll()
	assert.Equal(t, 1, status.TotalCommands)
	assert.Equal(t, AccountQueueStatus{Total: 1, Pending: 1}, status.Accounts["S1"])
}

func TestQueuePollLimit(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	for i := 0; i < 15; i++ {
		_, _ = q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	}

	cmds, _ := q.Poll(ctx, "S1", 0)
	assert.Len(t, cmds, 10)
	cmds, _ = q.Poll(ctx, "S1", 3)
	assert.Len(t, cmds, 3)
	cmds, _ = q.Poll(ctx, "S1", 500)
	assert.Len(t, cmds, 15)
}

func TestQueueRestoreFromJournal(t *testing.T) {
	ctx := context.Background()
	journal := newStubJournal()
	clock := newFakeClock()

	first := newTestQueue(t, WithJournal(journal), WithQueueClock(clock.Now))
	id1, _ := first.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	clock.Advance(time.Second)
	id2, _ := first.Enqueue(ctx, newCommand("S1", "SELL", "EURUSD"))
	clock.Advance(time.Second)
	id3, _ := first.Enqueue(ctx, newCommand("S2", "BUY", "XAUUSD"))
	_, _ = first.Acknowledge(ctx, "S2", id3, domain.AckOutcomeSuccess, "", "")

	second := newTestQueue(t, WithJournal(journal), WithQueueClock(clock.Now))
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cmds, _ := second.Poll(ctx, "S1", 0)
	assert.Equal(t, []string{id1, id2}, commandIDs(cmds))
	assert.Equal(t, 0, second.PendingCount(ctx, "S2"))
}

func TestQueueConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	const producers, perProducer = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				cmd := newCommand("S1", "BUY", "EURUSD")
				cmd.Payload["seq"] = fmt.Sprintf("%d-%03d", p, i)
				_, err := q.Enqueue(ctx, cmd)
				assert.NoError(t, err)
			}
		}(p)
		// Otra cuenta en paralelo
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, _ = q.Enqueue(ctx, newCommand("S2", "BUY", "EURUSD"))
				_, _ = q.Poll(ctx, "S2", 0)
			}
		}()
	}
	wg.Wait()

	last := make(map[byte]string)
	for {
		cmds, err := q.Poll(ctx, "S1", 100)
		require.NoError(t, err)
		if len(cmds) == 0 {
			break
		}
		for _, c := range cmds {
			seq := c.Payload["seq"].(string)
			prev := last[seq[0]]
			assert.Less(t, prev, seq)
			last[seq[0]] = seq
			_, err := q.Acknowledge(ctx, "S1", c.CommandID, domain.AckOutcomeSuccess, "", "")
			require.NoError(t, err)
		}
	}
	assert.Len(t, last, producers)
	assert.Equal(t, int64(producers*perProducer), q.Stats().Acknowledged)
}

func TestQueueBlockedAccountDoesNotStallOthers(t *testing.T) {
	ctx := context.Background()
	journal := newStubJournal()
	q := newTestQueue(t, WithJournal(journal))

	held, release := journal.holdPuts("A")
	blockedDone := make(chan struct{})
	go func() {
		defer close(blockedDone)
		_, err := q.Enqueue(ctx, newCommand("A", "BUY", "EURUSD"))
		assert.NoError(t, err)
	}()
	<-held

	// Con A retenida dentro del journal, B completa su ciclo entero
	otherDone := make(chan struct{})
	go func() {
		defer close(otherDone)
		id, err := q.Enqueue(ctx, newCommand("B", "SELL", "GBPUSD"))
		assert.NoError(t, err)
		cmds, err := q.Poll(ctx, "B", 0)
		assert.NoError(t, err)
		assert.Equal(t, []string{id}, commandIDs(cmds))
		_, err = q.Acknowledge(ctx, "B", id, domain.AckOutcomeSuccess, "7", "")
		assert.NoError(t, err)
		assert.Equal(t, 0, q.PendingCount(ctx, "B"))
	}()

	select {
	case <-otherDone:
	case <-time.After(2 * time.Second):
		t.Fatal("account B stalled behind account A")
	}
	select {
	case <-blockedDone:
		t.Fatal("enqueue on A finished before its journal write was released")
	default:
	}

	close(release)
	<-blockedDone
	assert.Equal(t, 1, q.PendingCount(ctx, "A"))
}

func TestQueueRestoreKeepsConcurrentEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	journal := newStubJournal()

	// Cada lectura del reloj avanza 1ms: timestamps distintos y crecientes
	var ticks sync.Mutex
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	n := 0
	clock := func() time.Time {
		ticks.Lock()
		defer ticks.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Millisecond)
	}

	first := newTestQueue(t, WithJournal(journal), WithQueueClock(clock))
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := first.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	want := commandIDs(first.Peek("S1", 100))
	require.Len(t, want, 80)

	second := newTestQueue(t, WithJournal(journal), WithQueueClock(clock))
	restored, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, restored)
	assert.Equal(t, want, commandIDs(second.Peek("S1", 100)))
}

func TestQueuePollBatchesJournalUpdates(t *testing.T) {
	ctx := context.Background()
	journal := newStubJournal()
	q := newTestQueue(t, WithJournal(journal))

	ids := make([]string, 3)
	for i := range ids {
		ids[i], _ = q.Enqueue(ctx, newCommand("S1", "BUY", "EURUSD"))
	}

	cmds, err := q.Poll(ctx, "S1", 0)
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, 1, journal.updateCalls, "one journal transaction per poll")
	for _, id := range ids {
		stored := journal.get(id)
		require.NotNil(t, stored)
		assert.Equal(t, domain.CommandStatusDelivered, stored.Status)
		assert.Equal(t, 1, stored.DeliveryCount)
	}

	_, err = q.Acknowledge(ctx, "S1", ids[0], domain.AckOutcomeSuccess, "", "")
	require.NoError(t, err)
	_, err = q.Poll(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Nil(t, journal.get(ids[0]), "acked command stays out of the journal")
	assert.Equal(t, 2, journal.size())
}
