package core

import (
	"math/big"

	"github.com/Ithil-protocol/liquidation-bot/internal/market"
	fpmath "github.com/Ithil-protocol/liquidation-bot/internal/math"
	"github.com/Ithil-protocol/liquidation-bot/internal/state"
)

var resolution = big.NewInt(fpmath.Resolution)

// Verdict is the outcome of scoring one position.
type Verdict struct {
	Score         *big.Int
	Indeterminate bool
	Reason        string
}

// Liquidatable reports a determinate, strictly positive score.
func (v Verdict) Liquidatable() bool {
	return !v.Indeterminate && v.Score != nil && v.Score.Sign() > 0
}

func indeterminate(reason string) Verdict {
	return Verdict{Indeterminate: true, Reason: reason}
}

// score computes
//
//	collateral * pairRisk - pnl * Resolution
//
// where pnl is what the position would be left with after repaying
// principal plus due fees. With collateral posted in the owed token, pnl is
// measured in owed units by quoting the allowance into the owed token.
// Otherwise it is measured in held units by quoting the debt into the held
// token. A missing price or risk factor makes the verdict indeterminate.
func (e *Engine) score(pos *state.Position, held, owed market.Token) Verdict {
	heldRisk, ok := e.risk.Get(held.Symbol)
	if !ok {
		return indeterminate("missing risk factor for " + held.Symbol.String())
	}
	owedRisk, ok := e.risk.Get(owed.Symbol)
	if !ok {
		return indeterminate("missing risk factor for " + owed.Symbol.String())
	}
	heldPrice, ok := e.prices.USDPrice(held.Symbol)
	if !ok {
		return indeterminate("missing price for " + held.Symbol.String())
	}
	owedPrice, ok := e.prices.USDPrice(owed.Symbol)
	if !ok {
		return indeterminate("missing price for " + owed.Symbol.String())
	}

	dueFees := fpmath.DueFees(&pos.Fees, &pos.Principal, &pos.CreatedAt, &e.clock)
	debt := new(big.Int).Add(pos.Principal.ToBig(), dueFees)

	var pnl *big.Int
	if pos.CollateralInOwedToken() {
		expected, err := fpmath.Quote(pos.Allowance.ToBig(), heldPrice, owedPrice, held.Decimals, owed.Decimals)
		if err != nil {
			return indeterminate(err.Error())
		}
		pnl = expected.Sub(expected, debt)
	} else {
		expected, err := fpmath.Quote(debt, owedPrice, heldPrice, owed.Decimals, held.Decimals)
		if err != nil {
			return indeterminate(err.Error())
		}
		pnl = new(big.Int).Sub(pos.Allowance.ToBig(), expected)
	}

	pairRisk := fpmath.PairRiskFactor(&heldRisk, &owedRisk)
	score := new(big.Int).Mul(pos.Collateral.ToBig(), pairRisk)
	score.Sub(score, pnl.Mul(pnl, resolution))

	return Verdict{Score: score}
}
