package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnknownToken = errors.New("unknown token")

// Token is immutable reference data for an ERC20 the protocol trades.
type Token struct {
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   Currency       `json:"symbol"`
}

// Registry maps token addresses to tokens. It is built once at startup and
// is read-only afterwards, so it is shared between goroutines without locks.
type Registry struct {
	byAddress map[common.Address]Token
}

func NewRegistry(tokens []Token) (*Registry, error) {
	r := &Registry{byAddress: make(map[common.Address]Token, len(tokens))}
	for _, t := range tokens {
		if t.Symbol == CurrencyUnknown {
			return nil, fmt.Errorf("token %s: %w", t.Address.Hex(), ErrUnknownCurrency)
		}
		if _, dup := r.byAddress[t.Address]; dup {
			return nil, fmt.Errorf("token %s registered twice", t.Address.Hex())
		}
		r.byAddress[t.Address] = t
	}
	return r, nil
}

// Lookup resolves an address. The error wraps ErrUnknownToken.
func (r *Registry) Lookup(addr common.Address) (Token, error) {
	t, ok := r.byAddress[addr]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return t, nil
}

func (r *Registry) Len() int {
	return len(r.byAddress)
}

// Tokens returns the registered tokens ordered by address.
func (r *Registry) Tokens() []Token {
	out := make([]Token, 0, len(r.byAddress))
	for _, t := range r.byAddress {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

type tokenListJSON struct {
	Tokens []Token `json:"tokens"`
}

// LoadTokenList reads a deployment token list: {"tokens": [{name, address, decimals, symbol}]}.
func LoadTokenList(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token list: %w", err)
	}
	var list tokenListJSON
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse token list %s: %w", path, err)
	}
	return NewRegistry(list.Tokens)
}

// Deployment holds the protocol contract addresses the bot talks to.
type Deployment struct {
	Liquidator            common.Address `json:"Liquidator"`
	MarginTradingStrategy common.Address `json:"MarginTradingStrategy"`
}

type addressesJSON struct {
	Addresses Deployment `json:"addresses"`
}

// LoadAddresses reads a deployment address book: {"addresses": {"Liquidator": ..., "MarginTradingStrategy": ...}}.
func LoadAddresses(path string) (Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Deployment{}, fmt.Errorf("read addresses: %w", err)
	}
	var doc addressesJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Deployment{}, fmt.Errorf("parse addresses %s: %w", path, err)
	}
	if doc.Addresses.Liquidator == (common.Address{}) {
		return Deployment{}, fmt.Errorf("addresses %s: Liquidator missing", path)
	}
	if doc.Addresses.MarginTradingStrategy == (common.Address{}) {
		return Deployment{}, fmt.Errorf("addresses %s: MarginTradingStrategy missing", path)
	}
	return doc.Addresses, nil
}
