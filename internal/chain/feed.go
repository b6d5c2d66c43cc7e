package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

const (
	DefaultChunkSize     = 5_000
	DefaultDedupCapacity = 100_000

	logBufferSize = 128
)

// FeedConfig selects the contract and history range to follow.
type FeedConfig struct {
	Contract        common.Address
	DeploymentBlock uint64
	ChunkSize       uint64 // blocks per historical query
	DedupCapacity   int
}

// Feed turns the strategy contract's logs into canonical events. Backfill
// must complete before Run is first called. Run may be called again after
// it returns a transport error: it resumes from the last block it saw.
type Feed struct {
	client  Client
	history Client // historical queries; defaults to client
	decoder *Decoder
	cfg     FeedConfig
	seen    *SeenLogs
	next    uint64 // first block not yet covered by a historical query

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewFeed(client Client, decoder *Decoder, cfg FeedConfig, metrics *observability.Metrics) *Feed {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = DefaultDedupCapacity
	}
	return &Feed{
		client:  client,
		history: client,
		decoder: decoder,
		cfg:     cfg,
		seen:    NewSeenLogs(cfg.DedupCapacity),
		next:    cfg.DeploymentBlock,
		metrics: metrics,
		logger:  observability.NewLogger("chain-feed"),
	}
}

// UseHistoryClient routes backfill and gap-fill queries to c, typically an
// HTTP endpoint with higher query limits than the subscription socket.
func (f *Feed) UseHistoryClient(c Client) {
	f.history = c
}

func (f *Feed) filter(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{f.cfg.Contract},
		Topics:    [][]common.Hash{f.decoder.Topics()},
	}
}

// Backfill queries history from the deployment block to the current head
// and returns the decoded events in chain order. The caller replays them
// into the engine before starting any live feed.
func (f *Feed) Backfill(ctx context.Context) ([]event.Event, error) {
	head, err := f.history.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("backfill head: %w", err)
	}

	events, err := f.fetchRange(ctx, f.next, head)
	if err != nil {
		return nil, err
	}

	f.logger.Info().
		Uint64("from", f.cfg.DeploymentBlock).
		Uint64("to", head).
		Int("events", len(events)).
		Msg("backfill complete")
	return events, nil
}

// fetchRange runs chunked historical queries over [from, to] and advances
// f.next past every completed chunk.
func (f *Feed) fetchRange(ctx context.Context, from, to uint64) ([]event.Event, error) {
	var events []event.Event
	for start := from; start <= to; {
		end := to
		if to-start >= f.cfg.ChunkSize {
			end = start + f.cfg.ChunkSize - 1
		}

		q := f.filter(new(big.Int).SetUint64(start), new(big.Int).SetUint64(end))
		logs, err := f.history.FilterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("filter logs [%d, %d]: %w", start, end, err)
		}
		for _, l := range logs {
			if evt, ok := f.accept(l); ok {
				events = append(events, evt)
			}
		}

		f.next = end + 1
		if end == to {
			break
		}
		start = end + 1
	}
	return events, nil
}

// Run subscribes to new logs, fills the gap between the last queried block
// and the head, then forwards pushed logs until ctx ends or the
// subscription fails. Sends block when out is full.
func (f *Feed) Run(ctx context.Context, out chan<- event.Event) error {
	logs := make(chan types.Log, logBufferSize)
	sub, err := f.client.SubscribeFilterLogs(ctx, f.filter(nil, nil), logs)
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	head, err := f.history.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("gap fill head: %w", err)
	}
	if head >= f.next {
		missed, err := f.fetchRange(ctx, f.next, head)
		if err != nil {
			return fmt.Errorf("gap fill: %w", err)
		}
		for _, evt := range missed {
			if err := f.forward(ctx, out, evt); err != nil {
				return err
			}
		}
	}

	f.logger.Info().Str("contract", f.cfg.Contract.Hex()).Uint64("from_block", f.next).Msg("live log subscription started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return fmt.Errorf("log subscription: %w", err)

		case l := <-logs:
			evt, ok := f.accept(l)
			if !ok {
				continue
			}
			if l.BlockNumber > f.next {
				f.next = l.BlockNumber
			}
			if err := f.forward(ctx, out, evt); err != nil {
				return err
			}
		}
	}
}

// accept filters and decodes one log. Removed, duplicate, unmatched and
// malformed logs are dropped with a diagnostic.
func (f *Feed) accept(l types.Log) (event.Event, bool) {
	ref := event.LogRef{BlockNumber: l.BlockNumber, TxHash: l.TxHash, LogIndex: l.Index}
	key := ref.Key()

	if l.Removed {
		f.logger.Warn().Str("log", key).Uint64("block", l.BlockNumber).Msg("log removed by reorg, ignoring")
		return nil, false
	}
	if key != "" && f.seen.Contains(key) {
		if f.metrics != nil {
			f.metrics.DuplicateLogs.Inc()
		}
		return nil, false
	}

	evt, matched, err := f.decoder.Decode(l)
	switch {
	case err != nil:
		if key != "" {
			f.seen.Add(key)
		}
		if f.metrics != nil {
			f.metrics.DecodeErrors.WithLabelValues("chain").Inc()
		}
		f.logger.Warn().Err(err).Msg("malformed strategy log dropped")
		return nil, false

	case !matched:
		if f.metrics != nil {
			f.metrics.UnmatchedLogs.Inc()
		}
		f.logger.Debug().Str("log", key).Msg("unmatched log dropped")
		return nil, false
	}

	if key != "" {
		f.seen.Add(key)
	}
	if f.metrics != nil {
		f.metrics.EventsIngested.WithLabelValues("chain", evt.EventType().String()).Inc()
	}
	return evt, true
}

func (f *Feed) forward(ctx context.Context, out chan<- event.Event, evt event.Event) error {
	select {
	case out <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
