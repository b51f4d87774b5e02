package internal

import (
	"context"
	"sync"
	"time"

	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
)

const defaultReaperInterval = 60 * time.Second

// queueReaper expira periódicamente los comandos fuera de la ventana de retención.
type queueReaper struct {
	queue     *CommandQueue
	telemetry *telemetry.Client

	interval time.Duration
	updateCh chan time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newQueueReaper(queue *CommandQueue, tel *telemetry.Client, interval time.Duration) *queueReaper {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	return &queueReaper{
		queue:     queue,
		telemetry: tel,
		interval:  interval,
		updateCh:  make(chan time.Duration, 1),
		done:      make(chan struct{}),
	}
}

// Start lanza el loop. Termina con Stop o al cancelar ctx.
func (r *queueReaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop detiene el loop y espera a que termine el sweep en curso.
func (r *queueReaper) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *queueReaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case newInterval := <-r.updateCh:
			ticker.Reset(newInterval)
			r.telemetry.Debug(ctx, "Reaper interval updated",
				semconv.Bridge.Component.String(semconv.ComponentValues.Reaper),
			)
		case <-r.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *queueReaper) sweep(ctx context.Context) int {
	ctx, span := r.telemetry.StartSpan(ctx, "core.reaper.sweep")
	defer span.End()

	n := r.queue.ExpireStale(ctx)
	if n > 0 {
		r.telemetry.Info(ctx, "Reaper expired commands",
			semconv.Bridge.Component.String(semconv.ComponentValues.Reaper),
			semconv.Bridge.Count.Int(n),
		)
	}
	return n
}

// UpdateInterval cambia el periodo del ticker; el último valor pendiente gana.
func (r *queueReaper) UpdateInterval(interval time.Duration) {
	if r == nil {
		return
	}
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	select {
	case r.updateCh <- interval:
	default:
		select {
		case <-r.updateCh:
		default:
		}
		r.updateCh <- interval
	}
}
