package math

import (
	stdmath "math"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int %q", s)
	}
	return v
}

func TestQuote_WBTCToDAI(t *testing.T) {
	// 0.05 WBTC (8 decimals) at 18300 USD into DAI (18 decimals) at 1 USD
	got, err := Quote(big.NewInt(5_000_000), 18300, 1.0, 8, 18)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	want := mustBig(t, "915000000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("Quote = %s, want %s", got, want)
	}
}

func TestQuote_DAIToWBTC(t *testing.T) {
	// 1000 DAI at 1 USD into WBTC at 20000 USD = 0.05 WBTC
	amount := mustBig(t, "1000000000000000000000")
	got, err := Quote(amount, 1.0, 20000, 18, 8)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if got.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Errorf("Quote = %s, want 5000000", got)
	}
}

func TestQuote_MaxUint256DoesNotOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne().ToBig()
	got, err := Quote(max, 1e6, 1e-6, 0, 18)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if got.Cmp(max) <= 0 {
		t.Errorf("expected quote larger than input, got %s", got)
	}
}

func TestQuote_InvalidPrices(t *testing.T) {
	prices := []float64{0, -1, stdmath.NaN(), stdmath.Inf(1)}
	for _, p := range prices {
		if _, err := Quote(big.NewInt(1), p, 1, 18, 18); err == nil {
			t.Errorf("Quote with src price %v: expected error", p)
		}
		if _, err := Quote(big.NewInt(1), 1, p, 18, 18); err == nil {
			t.Errorf("Quote with dst price %v: expected error", p)
		}
	}
}

func TestDueFees(t *testing.T) {
	principal := uint256.MustFromDecimal("900000000000000000000")
	rate := uint256.NewInt(100) // 1% per period
	created := uint256.NewInt(1_000_000)

	tests := []struct {
		name string
		now  uint64
		want string
	}{
		{"no time elapsed", 1_000_000, "0"},
		{"clock behind creation", 999_000, "0"},
		{"one period", 1_000_000 + TimeFeePeriod, "9000000000000000000"},
		{"half period", 1_000_000 + TimeFeePeriod/2, "4500000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DueFees(rate, principal, created, uint256.NewInt(tt.now))
			if got.String() != tt.want {
				t.Errorf("DueFees = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPairRiskFactor(t *testing.T) {
	got := PairRiskFactor(uint256.NewInt(2000), uint256.NewInt(1000))
	if got.Int64() != 1500 {
		t.Errorf("PairRiskFactor = %s, want 1500", got)
	}
}
