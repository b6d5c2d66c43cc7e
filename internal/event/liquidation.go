package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// intentNamespace seeds deterministic intent ids so that the same
// (strategy, position) always yields the same IntentID.
var intentNamespace = uuid.MustParse("6f1c2a4e-9b0d-4c57-8e3a-51d2b7f40c19")

// Liquidation instructs the dispatcher to liquidate one position.
type Liquidation struct {
	IntentID        uuid.UUID
	StrategyAddress common.Address
	PositionID      uint256.Int
}

func NewLiquidation(strategy common.Address, positionID uint256.Int) Liquidation {
	id := positionID.Bytes32()
	seed := make([]byte, 0, common.AddressLength+len(id))
	seed = append(seed, strategy.Bytes()...)
	seed = append(seed, id[:]...)
	return Liquidation{
		IntentID:        uuid.NewSHA1(intentNamespace, seed),
		StrategyAddress: strategy,
		PositionID:      positionID,
	}
}

// OutcomeStatus is the terminal state of a dispatched intent.
type OutcomeStatus int32

const (
	OutcomeUnknown OutcomeStatus = iota
	OutcomeConfirmed
	OutcomeReverted
	OutcomeFailed
	OutcomeDryRun
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeReverted:
		return "reverted"
	case OutcomeFailed:
		return "failed"
	case OutcomeDryRun:
		return "dry_run"
	default:
		return "unknown"
	}
}

// LiquidationOutcome records what happened to an intent.
type LiquidationOutcome struct {
	Intent      Liquidation
	Status      OutcomeStatus
	TxHash      common.Hash
	BlockNumber uint64
	Error       string
	CompletedAt time.Time
}
