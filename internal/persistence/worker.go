package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/rs/zerolog"
)

// ErrWorkerStopped is returned by Record after Run has exited.
var ErrWorkerStopped = errors.New("audit worker stopped")

// AuditWorker buffers dispatch outcomes and batch-writes them to Postgres.
// It runs beside the dispatcher so a slow database never delays a
// liquidation; Record only blocks when the buffer is full.
type AuditWorker struct {
	writer       *OutcomeWriter
	input        chan OutcomeRow
	done         chan struct{}
	batchSize    int
	flushTimeout time.Duration

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewAuditWorker(db *sql.DB, bufferSize, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics) *AuditWorker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	if flushTimeout <= 0 {
		flushTimeout = time.Second
	}
	return &AuditWorker{
		writer:       NewOutcomeWriter(db),
		input:        make(chan OutcomeRow, bufferSize),
		done:         make(chan struct{}),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("audit-worker"),
	}
}

func (w *AuditWorker) Name() string { return "postgres" }

// Record enqueues an outcome for the next batch.
func (w *AuditWorker) Record(ctx context.Context, o event.LiquidationOutcome) error {
	select {
	case w.input <- NewOutcomeRow(o):
		return nil
	case <-w.done:
		return ErrWorkerStopped
	case <-ctx.Done():
		return fmt.Errorf("enqueue outcome: %w", ctx.Err())
	}
}

// Run batches queued outcomes and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled, then flushes what
// is left.
func (w *AuditWorker) Run(ctx context.Context) error {
	defer close(w.done)

	batch := make([]OutcomeRow, 0, w.batchSize)
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// drain whatever was enqueued before shutdown
		drain:
			for {
				select {
				case row := <-w.input:
					batch = append(batch, row)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Int("rows", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case row := <-w.input:
			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made.
func (w *AuditWorker) flushWithRetry(ctx context.Context, rows []OutcomeRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("rows", len(rows)).Msg("audit flush retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), rows); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("audit flush succeeded")
			}
			return nil
		}
		if w.metrics != nil {
			w.metrics.AuditFlushErrors.Inc()
		}
	}
}

func (w *AuditWorker) flush(ctx context.Context, rows []OutcomeRow) error {
	if err := w.writer.WriteBatch(ctx, rows); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.AuditRowsWritten.Add(float64(len(rows)))
	}
	return nil
}
