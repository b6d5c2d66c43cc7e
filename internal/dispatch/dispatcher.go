package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/rs/zerolog"
)

// Submitter executes one liquidation intent and waits for its outcome. A
// non-nil error means the intent failed; the returned outcome still
// describes what happened and is recorded.
type Submitter interface {
	Submit(ctx context.Context, intent event.Liquidation) (event.LiquidationOutcome, error)
}

// Recorder receives every dispatch outcome.
type Recorder interface {
	Name() string
	Record(ctx context.Context, outcome event.LiquidationOutcome) error
}

// IntentRecorder is implemented by recorders that also want intents as
// they are received, before submission.
type IntentRecorder interface {
	RecordIntent(ctx context.Context, intent event.Liquidation) error
}

// Dispatcher submits intents one at a time. The next intent is not read
// until the previous one is confirmed or has failed.
type Dispatcher struct {
	submitter Submitter
	recorders []Recorder
	timeout   time.Duration

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewDispatcher builds a dispatcher. timeout bounds each submission,
// including the confirmation wait; zero means no bound.
func NewDispatcher(submitter Submitter, timeout time.Duration, metrics *observability.Metrics, recorders ...Recorder) *Dispatcher {
	return &Dispatcher{
		submitter: submitter,
		recorders: recorders,
		timeout:   timeout,
		metrics:   metrics,
		logger:    observability.NewLogger("dispatcher"),
	}
}

// Run consumes intents until ctx ends or in is closed. The first failed
// submission stops the dispatcher and is returned.
func (d *Dispatcher) Run(ctx context.Context, in <-chan event.Liquidation) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case intent, ok := <-in:
			if !ok {
				return nil
			}
			if err := d.dispatch(ctx, intent); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, intent event.Liquidation) error {
	log := d.logger.With().
		Str("intent_id", intent.IntentID.String()).
		Str("strategy", intent.StrategyAddress.Hex()).
		Str("position_id", intent.PositionID.Dec()).
		Logger()

	for _, r := range d.recorders {
		if ir, ok := r.(IntentRecorder); ok {
			if err := ir.RecordIntent(ctx, intent); err != nil {
				d.recorderFailed(r, err)
			}
		}
	}

	subCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		subCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	outcome, err := d.submitter.Submit(subCtx, intent)
	if d.metrics != nil {
		d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	}

	outcome.Intent = intent
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = time.Now().UTC()
	}
	if err != nil {
		if outcome.Status == event.OutcomeUnknown || outcome.Status == event.OutcomeConfirmed {
			outcome.Status = event.OutcomeFailed
		}
		outcome.Error = err.Error()
	}
	if d.metrics != nil {
		d.metrics.DispatchTotal.WithLabelValues(outcome.Status.String()).Inc()
	}

	// Outcomes are recorded even when ctx has ended so a failure during
	// shutdown still reaches the audit log.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, r := range d.recorders {
		if rerr := r.Record(recCtx, outcome); rerr != nil {
			d.recorderFailed(r, rerr)
		}
	}

	if err != nil {
		log.Error().Err(err).Str("status", outcome.Status.String()).Msg("liquidation failed")
		return fmt.Errorf("dispatch position %s: %w", intent.PositionID.Dec(), err)
	}

	log.Info().
		Str("status", outcome.Status.String()).
		Str("tx", outcome.TxHash.Hex()).
		Uint64("block", outcome.BlockNumber).
		Msg("liquidation dispatched")
	return nil
}

func (d *Dispatcher) recorderFailed(r Recorder, err error) {
	if d.metrics != nil {
		d.metrics.RecorderErrors.WithLabelValues(r.Name()).Inc()
	}
	d.logger.Warn().Err(err).Str("recorder", r.Name()).Msg("recorder failed")
}
