package supervise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
)

// Task is a long-running feed loop. It returns when ctx ends or when its
// transport fails.
type Task func(ctx context.Context) error

// Policy decides whether a failed task is restarted and after how long.
type Policy interface {
	// Next returns the delay before restart number attempt (1-based), or
	// false to give up.
	Next(attempt int) (time.Duration, bool)
	// Reset reports whether a run that lasted ran resets the attempt count.
	Reset(ran time.Duration) bool
}

// FailFast never restarts: the first task error is returned.
type FailFast struct{}

func (FailFast) Next(int) (time.Duration, bool) { return 0, false }
func (FailFast) Reset(time.Duration) bool       { return false }

// Backoff restarts with a doubling delay capped at Max. MaxAttempts of zero
// retries forever. A run longer than Max counts as healthy and resets the
// attempt count.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}
	delay := b.Base
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max, true
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay, true
}

func (b Backoff) Reset(ran time.Duration) bool {
	return b.Max > 0 && ran > b.Max
}

// ParsePolicy maps a configuration name to a policy.
func ParsePolicy(name string, base, max time.Duration) (Policy, error) {
	switch name {
	case "", "failfast":
		return FailFast{}, nil
	case "backoff":
		return Backoff{Base: base, Max: max}, nil
	default:
		return nil, fmt.Errorf("unknown restart policy %q", name)
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying under any policy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Run executes task under policy until ctx ends, the task returns nil, or
// the policy gives up. Restarts are counted in metrics under name.
func Run(ctx context.Context, name string, policy Policy, metrics *observability.Metrics, task Task) error {
	logger := observability.NewLogger("supervisor").With().Str("task", name).Logger()
	attempt := 0

	for {
		started := time.Now()
		err := task(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsPermanent(err) {
			logger.Error().Err(err).Msg("task failed permanently")
			return fmt.Errorf("%s: %w", name, err)
		}

		if policy.Reset(time.Since(started)) {
			attempt = 0
		}
		attempt++

		delay, retry := policy.Next(attempt)
		if !retry {
			logger.Error().Err(err).Int("attempt", attempt).Msg("task failed, not restarting")
			return fmt.Errorf("%s: %w", name, err)
		}

		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("task failed, restarting")
		if metrics != nil {
			metrics.FeedRestarts.WithLabelValues(name).Inc()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
