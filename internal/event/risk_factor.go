package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RiskFactorUpdated carries a new per-token risk factor, resolution-scaled.
type RiskFactorUpdated struct {
	Token         common.Address
	NewRiskFactor uint256.Int
	Source        LogRef
}

func (r *RiskFactorUpdated) IdempotencyKey() string {
	return r.Source.Key()
}

func (r *RiskFactorUpdated) EventType() EventType {
	return EventTypeRiskFactorUpdated
}

func (r *RiskFactorUpdated) sealed() {}
