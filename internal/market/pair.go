package market

import (
	"fmt"
	"strings"
)

// Pair is an ordered (base, quote) currency pair. Pair{A, B} and Pair{B, A}
// are different keys: a price for Pair{A, B} is the amount of B paid per A.
type Pair struct {
	Base  Currency
	Quote Currency
}

func NewPair(base, quote Currency) Pair {
	return Pair{Base: base, Quote: quote}
}

// ParsePair parses an exchange product id of the form BASE-QUOTE.
func ParsePair(productID string) (Pair, error) {
	base, quote, ok := strings.Cut(productID, "-")
	if !ok {
		return Pair{}, fmt.Errorf("parse pair %q: missing separator", productID)
	}
	b, err := ParseCurrency(base)
	if err != nil {
		return Pair{}, fmt.Errorf("parse pair %q: %w", productID, err)
	}
	q, err := ParseCurrency(quote)
	if err != nil {
		return Pair{}, fmt.Errorf("parse pair %q: %w", productID, err)
	}
	return Pair{Base: b, Quote: q}, nil
}

func (p Pair) String() string {
	return p.Base.String() + "-" + p.Quote.String()
}

func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// USDQuotes lists the quote currencies accepted as a USD valuation, most
// preferred first.
var USDQuotes = []Currency{USD, USDC, USDT}
