package state

import (
	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionStatus tracks a live position's lifecycle. Removal (close or
// liquidation on chain) is represented by absence from the book.
type PositionStatus int32

const (
	PositionStatusOpened PositionStatus = iota
	PositionStatusLiquidationRequested
)

// Position is a leveraged loan tracked by id
type Position struct {
	ID              uint256.Int
	Owner           common.Address
	OwedToken       common.Address
	HeldToken       common.Address
	CollateralToken common.Address
	Collateral      uint256.Int
	Principal       uint256.Int
	Allowance       uint256.Int
	Fees            uint256.Int
	CreatedAt       uint256.Int
	Status          PositionStatus
}

func NewPosition(e *event.PositionOpened) *Position {
	return &Position{
		ID:              e.ID,
		Owner:           e.Owner,
		OwedToken:       e.OwedToken,
		HeldToken:       e.HeldToken,
		CollateralToken: e.CollateralToken,
		Collateral:      e.Collateral,
		Principal:       e.Principal,
		Allowance:       e.Allowance,
		Fees:            e.Fees,
		CreatedAt:       e.CreatedAt,
		Status:          PositionStatusOpened,
	}
}

// CollateralInOwedToken reports whether collateral was posted in the
// borrowed currency rather than the held one.
func (p *Position) CollateralInOwedToken() bool {
	return p.CollateralToken == p.OwedToken
}

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusOpened:
		return "Opened"
	case PositionStatusLiquidationRequested:
		return "LiquidationRequested"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions. LiquidationRequested is
// terminal until the chain reports the position closed or liquidated.
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	validTransitions := map[PositionStatus][]PositionStatus{
		PositionStatusOpened: {
			PositionStatusLiquidationRequested,
		},
	}

	for _, valid := range validTransitions[s] {
		if valid == next {
			return true
		}
	}
	return false
}
