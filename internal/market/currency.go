package market

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownCurrency = errors.New("unknown currency code")

// Currency is a ticker symbol drawn from a closed set of supported codes.
type Currency uint8

const (
	CurrencyUnknown Currency = iota
	BTC
	DAI
	ETH
	USD
	USDC
	USDT
	WBTC
	WETH
)

var currencyNames = map[Currency]string{
	BTC:  "BTC",
	DAI:  "DAI",
	ETH:  "ETH",
	USD:  "USD",
	USDC: "USDC",
	USDT: "USDT",
	WBTC: "WBTC",
	WETH: "WETH",
}

var currencyCodes = func() map[string]Currency {
	m := make(map[string]Currency, len(currencyNames))
	for c, name := range currencyNames {
		m[name] = c
	}
	return m
}()

// ParseCurrency resolves an upper-case code. Codes outside the supported set fail.
func ParseCurrency(code string) (Currency, error) {
	c, ok := currencyCodes[strings.TrimSpace(code)]
	if !ok {
		return CurrencyUnknown, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return c, nil
}

func (c Currency) String() string {
	if name, ok := currencyNames[c]; ok {
		return name
	}
	return "Unknown"
}

// Underlying returns the asset a wrapped token tracks, or the currency itself.
func (c Currency) Underlying() Currency {
	switch c {
	case WBTC:
		return BTC
	case WETH:
		return ETH
	default:
		return c
	}
}

// Matches reports whether a price quoted for base applies to c.
func (c Currency) Matches(base Currency) bool {
	return c == base || c.Underlying() == base
}

func (c Currency) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Currency) UnmarshalText(text []byte) error {
	parsed, err := ParseCurrency(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Exchange identifies the venue a price was observed on.
type Exchange uint8

const (
	ExchangeUnknown Exchange = iota
	ExchangeCoinbase
)

func (e Exchange) String() string {
	switch e {
	case ExchangeCoinbase:
		return "coinbase"
	default:
		return "unknown"
	}
}
