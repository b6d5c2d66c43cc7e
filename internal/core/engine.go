package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/market"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/Ithil-protocol/liquidation-bot/internal/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// ErrInvariantViolation marks an event that references state bootstrap
// should have made impossible, such as an unregistered token.
var ErrInvariantViolation = errors.New("invariant violation")

// Engine folds canonical events into position, price and risk state and
// decides which positions to liquidate. It is single-threaded: Apply must
// never be called concurrently.
type Engine struct {
	strategy common.Address
	tokens   *market.Registry
	clock    uint256.Int

	positions *state.PositionManager
	prices    *state.PriceCache
	risk      *state.RiskFactors

	applied uint64
	emitted uint64

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewEngine creates an engine that liquidates positions of strategy. clock
// seeds the logical time until the first block header arrives.
func NewEngine(
	strategy common.Address,
	tokens *market.Registry,
	clock uint256.Int,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		strategy:  strategy,
		tokens:    tokens,
		clock:     clock,
		positions: state.NewPositionManager(),
		prices:    state.NewPriceCache(),
		risk:      state.NewRiskFactors(),
		metrics:   metrics,
		logger:    observability.NewLogger("engine"),
	}
}

// Apply folds one event and returns the liquidation intents it produced.
// A returned error is an invariant violation and should stop the process.
func (e *Engine) Apply(evt event.Event) ([]event.Liquidation, error) {
	start := time.Now()

	var (
		intents []event.Liquidation
		err     error
	)

	switch ev := evt.(type) {
	case *event.BlockHeader:
		e.clock = ev.Timestamp
	case *event.PositionOpened:
		e.handlePositionOpened(ev)
	case *event.PositionClosed:
		e.handlePositionRemoved(ev.ID, "closed")
	case *event.PositionLiquidated:
		e.handlePositionRemoved(ev.ID, "liquidated")
	case *event.RiskFactorUpdated:
		err = e.handleRiskFactorUpdated(ev)
	case *event.PriceTick:
		intents, err = e.handlePriceTick(ev)
	default:
		err = fmt.Errorf("%w: unsupported event %T", ErrInvariantViolation, evt)
	}

	e.applied++
	e.emitted += uint64(len(intents))

	if e.metrics != nil {
		e.metrics.EventsApplied.WithLabelValues(evt.EventType().String()).Inc()
		e.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
		e.metrics.IntentsEmitted.Add(float64(len(intents)))
		e.metrics.OpenPositions.Set(float64(e.positions.Count()))
		e.metrics.LogicalClock.Set(e.clock.Float64())
	}

	return intents, err
}

func (e *Engine) handlePositionOpened(ev *event.PositionOpened) {
	if !e.positions.Open(ev) {
		e.logger.Warn().
			Str("position_id", ev.ID.Dec()).
			Str("log", ev.IdempotencyKey()).
			Msg("position already open, ignoring duplicate open")
		return
	}
	e.logger.Debug().
		Str("position_id", ev.ID.Dec()).
		Str("owner", ev.Owner.Hex()).
		Msg("position opened")
}

func (e *Engine) handlePositionRemoved(id uint256.Int, reason string) {
	if e.positions.Remove(id) {
		e.logger.Debug().Str("position_id", id.Dec()).Str("reason", reason).Msg("position removed")
	}
}

func (e *Engine) handleRiskFactorUpdated(ev *event.RiskFactorUpdated) error {
	token, err := e.tokens.Lookup(ev.Token)
	if err != nil {
		return fmt.Errorf("%w: risk factor update: %w", ErrInvariantViolation, err)
	}
	e.risk.Set(token.Symbol, ev.NewRiskFactor)
	e.logger.Info().
		Str("token", token.Symbol.String()).
		Str("risk_factor", ev.NewRiskFactor.Dec()).
		Msg("risk factor updated")
	return nil
}

// handlePriceTick refreshes the price cache and scores every Opened position
// touching the tick's base currency. Positions with a positive score are
// moved to LiquidationRequested before returning, so a later tick cannot
// emit a second intent for them.
func (e *Engine) handlePriceTick(ev *event.PriceTick) ([]event.Liquidation, error) {
	e.prices.Set(ev.Pair, ev.Price)

	var intents []event.Liquidation
	for _, pos := range e.positions.Opened() {
		held, owed, err := e.positionTokens(pos)
		if err != nil {
			return intents, err
		}
		if !held.Symbol.Matches(ev.Pair.Base) && !owed.Symbol.Matches(ev.Pair.Base) {
			continue
		}

		verdict := e.score(pos, held, owed)
		if !verdict.Liquidatable() {
			if verdict.Indeterminate {
				e.logger.Debug().
					Str("position_id", pos.ID.Dec()).
					Str("reason", verdict.Reason).
					Msg("score indeterminate")
			}
			continue
		}

		if err := e.positions.Transition(pos.ID, state.PositionStatusLiquidationRequested); err != nil {
			return intents, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
		intent := event.NewLiquidation(e.strategy, pos.ID)
		intents = append(intents, intent)

		e.logger.Info().
			Str("position_id", pos.ID.Dec()).
			Str("score", verdict.Score.String()).
			Str("pair", ev.Pair.String()).
			Float64("price", ev.Price).
			Str("intent_id", intent.IntentID.String()).
			Msg("liquidation requested")
	}
	return intents, nil
}

func (e *Engine) positionTokens(pos *state.Position) (held, owed market.Token, err error) {
	held, err = e.tokens.Lookup(pos.HeldToken)
	if err != nil {
		return held, owed, fmt.Errorf("%w: position %s held token: %w", ErrInvariantViolation, pos.ID.Dec(), err)
	}
	owed, err = e.tokens.Lookup(pos.OwedToken)
	if err != nil {
		return held, owed, fmt.Errorf("%w: position %s owed token: %w", ErrInvariantViolation, pos.ID.Dec(), err)
	}
	return held, owed, nil
}

// Replay applies a backfilled history in order and collects the intents.
func (e *Engine) Replay(events []event.Event) ([]event.Liquidation, error) {
	var intents []event.Liquidation
	for _, evt := range events {
		out, err := e.Apply(evt)
		intents = append(intents, out...)
		if err != nil {
			return intents, err
		}
	}
	return intents, nil
}

// --- Accessors (engine goroutine only) ---

func (e *Engine) Clock() uint256.Int {
	return e.clock
}

func (e *Engine) Position(id uint256.Int) *state.Position {
	return e.positions.GetPosition(id)
}

func (e *Engine) PositionCount() int {
	return e.positions.Count()
}
