package core

import (
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/state"
)

// Snapshot is an immutable copy of engine state for readers outside the
// engine goroutine.
type Snapshot struct {
	Clock          string         `json:"clock"`
	EventsApplied  uint64         `json:"events_applied"`
	IntentsEmitted uint64         `json:"intents_emitted"`
	OpenCount      int            `json:"open_count"`
	RequestedCount int            `json:"liquidation_requested_count"`
	Positions      []PositionView `json:"positions"`
	Prices         []PriceView    `json:"prices"`
	RiskFactors    []RiskView     `json:"risk_factors"`
	TakenAt        time.Time      `json:"taken_at"`
}

type PositionView struct {
	ID              string `json:"id"`
	Owner           string `json:"owner"`
	OwedToken       string `json:"owed_token"`
	HeldToken       string `json:"held_token"`
	CollateralToken string `json:"collateral_token"`
	Collateral      string `json:"collateral"`
	Principal       string `json:"principal"`
	Allowance       string `json:"allowance"`
	Fees            string `json:"fees"`
	CreatedAt       string `json:"created_at"`
	Status          string `json:"status"`
}

type PriceView struct {
	Pair  string  `json:"pair"`
	Price float64 `json:"price"`
}

type RiskView struct {
	Currency   string `json:"currency"`
	RiskFactor string `json:"risk_factor"`
}

// Snapshot copies current state. Engine goroutine only.
func (e *Engine) Snapshot() *Snapshot {
	all := e.positions.All()
	snap := &Snapshot{
		Clock:          e.clock.Dec(),
		EventsApplied:  e.applied,
		IntentsEmitted: e.emitted,
		Positions:      make([]PositionView, 0, len(all)),
		TakenAt:        time.Now().UTC(),
	}

	for _, pos := range all {
		if pos.Status == state.PositionStatusOpened {
			snap.OpenCount++
		} else {
			snap.RequestedCount++
		}
		snap.Positions = append(snap.Positions, PositionView{
			ID:              pos.ID.Dec(),
			Owner:           pos.Owner.Hex(),
			OwedToken:       pos.OwedToken.Hex(),
			HeldToken:       pos.HeldToken.Hex(),
			CollateralToken: pos.CollateralToken.Hex(),
			Collateral:      pos.Collateral.Dec(),
			Principal:       pos.Principal.Dec(),
			Allowance:       pos.Allowance.Dec(),
			Fees:            pos.Fees.Dec(),
			CreatedAt:       pos.CreatedAt.Dec(),
			Status:          pos.Status.String(),
		})
	}

	for _, p := range e.prices.All() {
		snap.Prices = append(snap.Prices, PriceView{Pair: p.Pair.String(), Price: p.Price})
	}
	for _, rf := range e.risk.All() {
		snap.RiskFactors = append(snap.RiskFactors, RiskView{
			Currency:   rf.Currency.String(),
			RiskFactor: rf.Factor.Dec(),
		})
	}
	return snap
}
