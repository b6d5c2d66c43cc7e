package dispatch

import (
	"context"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/rs/zerolog"
)

// DryRunSubmitter logs intents instead of sending transactions. It is used
// when no signing key is configured.
type DryRunSubmitter struct {
	logger zerolog.Logger
}

func NewDryRunSubmitter() *DryRunSubmitter {
	return &DryRunSubmitter{logger: observability.NewLogger("dry-run")}
}

func (s *DryRunSubmitter) Submit(ctx context.Context, intent event.Liquidation) (event.LiquidationOutcome, error) {
	s.logger.Info().
		Str("strategy", intent.StrategyAddress.Hex()).
		Str("position_id", intent.PositionID.Dec()).
		Msg("would liquidate")
	return event.LiquidationOutcome{
		Intent:      intent,
		Status:      event.OutcomeDryRun,
		CompletedAt: time.Now().UTC(),
	}, nil
}
