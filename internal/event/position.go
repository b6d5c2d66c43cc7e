package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionOpened is emitted by the strategy contract when a leveraged
// position is created.
type PositionOpened struct {
	ID              uint256.Int
	Owner           common.Address
	OwedToken       common.Address
	HeldToken       common.Address
	CollateralToken common.Address
	Collateral      uint256.Int
	Principal       uint256.Int
	Allowance       uint256.Int
	Fees            uint256.Int // interest rate, resolution-scaled per fee period
	CreatedAt       uint256.Int // Unix seconds
	Source          LogRef
}

func (p *PositionOpened) IdempotencyKey() string {
	return p.Source.Key()
}

func (p *PositionOpened) EventType() EventType {
	return EventTypePositionOpened
}

func (p *PositionOpened) sealed() {}

// PositionClosed is emitted when the owner closes a position.
type PositionClosed struct {
	ID     uint256.Int
	Source LogRef
}

func (p *PositionClosed) IdempotencyKey() string {
	return p.Source.Key()
}

func (p *PositionClosed) EventType() EventType {
	return EventTypePositionClosed
}

func (p *PositionClosed) sealed() {}

// PositionLiquidated is emitted when any liquidator closes a position.
type PositionLiquidated struct {
	ID     uint256.Int
	Source LogRef
}

func (p *PositionLiquidated) IdempotencyKey() string {
	return p.Source.Key()
}

func (p *PositionLiquidated) EventType() EventType {
	return EventTypePositionLiquidated
}

func (p *PositionLiquidated) sealed() {}
