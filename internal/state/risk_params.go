package state

import (
	"sort"

	"github.com/Ithil-protocol/liquidation-bot/internal/market"
	"github.com/holiman/uint256"
)

// RiskFactors holds the per-currency risk factor, resolution-scaled.
type RiskFactors struct {
	factors map[market.Currency]uint256.Int
}

func NewRiskFactors() *RiskFactors {
	return &RiskFactors{factors: make(map[market.Currency]uint256.Int)}
}

func (rf *RiskFactors) Set(c market.Currency, factor uint256.Int) {
	rf.factors[c] = factor
}

// Get returns the factor for c. A missing entry makes scoring indeterminate.
func (rf *RiskFactors) Get(c market.Currency) (uint256.Int, bool) {
	f, ok := rf.factors[c]
	return f, ok
}

type CurrencyFactor struct {
	Currency market.Currency
	Factor   uint256.Int
}

func (rf *RiskFactors) All() []CurrencyFactor {
	out := make([]CurrencyFactor, 0, len(rf.factors))
	for c, f := range rf.factors {
		out = append(out, CurrencyFactor{Currency: c, Factor: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}
