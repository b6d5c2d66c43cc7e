package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
)

const snapshotInterval = 500 * time.Millisecond

// Runner is the single consumer of the shared event channel. It owns the
// engine and forwards intents to the dispatcher channel.
type Runner struct {
	engine   *Engine
	in       <-chan event.Event
	out      chan<- event.Liquidation
	snapshot atomic.Pointer[Snapshot]
}

func NewRunner(engine *Engine, in <-chan event.Event, out chan<- event.Liquidation) *Runner {
	r := &Runner{engine: engine, in: in, out: out}
	r.snapshot.Store(engine.Snapshot())
	return r
}

// Run applies events in receipt order until ctx is cancelled or the input
// channel closes. Intent sends block, so a slow dispatcher backs up the
// event channel instead of losing intents.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if dirty {
				r.snapshot.Store(r.engine.Snapshot())
				dirty = false
			}
			r.reportChannels()

		case evt, ok := <-r.in:
			if !ok {
				r.snapshot.Store(r.engine.Snapshot())
				return nil
			}

			intents, err := r.engine.Apply(evt)
			dirty = true
			// Intents produced before an invariant failure are still sent.
			for _, intent := range intents {
				select {
				case r.out <- intent:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err != nil {
				r.snapshot.Store(r.engine.Snapshot())
				return fmt.Errorf("apply %s: %w", evt.EventType(), err)
			}
			if evt.EventType() != event.EventTypePriceTick {
				r.snapshot.Store(r.engine.Snapshot())
				dirty = false
			}
		}
	}
}

// Snapshot returns the latest published view of engine state. Safe to call
// from any goroutine.
func (r *Runner) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

func (r *Runner) reportChannels() {
	if r.engine.metrics == nil {
		return
	}
	r.engine.metrics.SetChannelMetrics("events", len(r.in), cap(r.in))
	r.engine.metrics.SetChannelMetrics("intents", len(r.out), cap(r.out))
}
