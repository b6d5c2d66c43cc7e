package event

import "github.com/Ithil-protocol/liquidation-bot/internal/market"

// PriceTick is the last traded price for a pair on an exchange. Price is a
// float because it is an external quote, not on-chain truth.
type PriceTick struct {
	Exchange market.Exchange
	Pair     market.Pair
	Price    float64
}

func (p *PriceTick) IdempotencyKey() string {
	return ""
}

func (p *PriceTick) EventType() EventType {
	return EventTypePriceTick
}

func (p *PriceTick) sealed() {}
