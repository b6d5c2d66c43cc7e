package state

import (
	"sort"

	"github.com/Ithil-protocol/liquidation-bot/internal/market"
)

// PriceCache holds the last price seen per pair. Entries are overwritten,
// never evicted.
type PriceCache struct {
	prices map[market.Pair]float64
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[market.Pair]float64)}
}

func (pc *PriceCache) Set(pair market.Pair, price float64) {
	pc.prices[pair] = price
}

func (pc *PriceCache) Get(pair market.Pair) (float64, bool) {
	p, ok := pc.prices[pair]
	return p, ok
}

// USDPrice resolves the USD value of one unit of c. Wrapped tokens fall
// back to their underlying and USD stablecoin quotes stand in for USD.
func (pc *PriceCache) USDPrice(c market.Currency) (float64, bool) {
	if c == market.USD {
		return 1, true
	}
	for _, base := range []market.Currency{c, c.Underlying()} {
		for _, quote := range market.USDQuotes {
			if p, ok := pc.prices[market.NewPair(base, quote)]; ok {
				return p, true
			}
		}
	}
	return 0, false
}

type PairPrice struct {
	Pair  market.Pair
	Price float64
}

// All returns cached prices ordered by pair.
func (pc *PriceCache) All() []PairPrice {
	out := make([]PairPrice, 0, len(pc.prices))
	for pair, price := range pc.prices {
		out = append(out, PairPrice{Pair: pair, Price: price})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair.Base != out[j].Pair.Base {
			return out[i].Pair.Base < out[j].Pair.Base
		}
		return out[i].Pair.Quote < out[j].Pair.Quote
	})
	return out
}
