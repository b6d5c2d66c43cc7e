package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// BlockFeed publishes new block headers so the engine's logical clock
// follows chain time.
type BlockFeed struct {
	client  Client
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewBlockFeed(client Client, metrics *observability.Metrics) *BlockFeed {
	return &BlockFeed{
		client:  client,
		metrics: metrics,
		logger:  observability.NewLogger("block-feed"),
	}
}

// Latest fetches the current head, used to seed the clock at startup.
func (b *BlockFeed) Latest(ctx context.Context) (*event.BlockHeader, error) {
	header, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	return toBlockHeader(header), nil
}

// Run forwards each new head until ctx ends or the subscription fails.
func (b *BlockFeed) Run(ctx context.Context, out chan<- event.Event) error {
	heads := make(chan *types.Header, 16)
	sub, err := b.client.SubscribeNewHead(ctx, heads)
	if err != nil {
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	defer sub.Unsubscribe()

	b.logger.Info().Msg("new head subscription started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return fmt.Errorf("head subscription: %w", err)

		case header := <-heads:
			if header == nil {
				continue
			}
			evt := toBlockHeader(header)
			select {
			case out <- evt:
			case <-ctx.Done():
				return ctx.Err()
			}
			if b.metrics != nil {
				b.metrics.EventsIngested.WithLabelValues("blocks", evt.EventType().String()).Inc()
			}
			b.logger.Debug().Uint64("number", evt.Number).Uint64("timestamp", header.Time).Msg("new head")
		}
	}
}

func toBlockHeader(h *types.Header) *event.BlockHeader {
	evt := &event.BlockHeader{Timestamp: *uint256.NewInt(h.Time)}
	if h.Number != nil {
		evt.Number = h.Number.Uint64()
	}
	return evt
}
