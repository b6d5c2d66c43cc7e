package math

import (
	"errors"
	"math"
	"math/big"
	"sync"
)

// PriceDecimals is the number of fractional digits kept when a float price
// is converted to an integer. The conversion is approximate by nature.
const PriceDecimals = 18

var (
	ErrInvalidPrice = errors.New("price must be finite and positive")

	priceScale = new(big.Float).SetInt(Pow10(PriceDecimals))
)

// Wide is a pooled big.Int for intermediate calculations
var widePool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getWide() *big.Int {
	return widePool.Get().(*big.Int)
}

func putWide(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	widePool.Put(v)
}

var pow10Cache sync.Map // uint8 -> *big.Int

// Pow10 returns 10^n. The result is shared and must not be mutated.
func Pow10(n uint8) *big.Int {
	if v, ok := pow10Cache.Load(n); ok {
		return v.(*big.Int)
	}
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	pow10Cache.Store(n, v)
	return v
}

// PriceToFixed converts a float price to an integer with PriceDecimals
// fractional digits, truncating the remainder.
func PriceToFixed(price float64) (*big.Int, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil, ErrInvalidPrice
	}
	f := new(big.Float).SetPrec(256).SetFloat64(price)
	f.Mul(f, priceScale)
	out, _ := f.Int(nil)
	if out.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return out, nil
}

// Quote converts amount of a source token into destination token units:
//
//	amount * srcPrice * 10^dstDecimals / (dstPrice * 10^srcDecimals)
//
// Prices are the USD value of one whole token. Every step runs on big.Int,
// so a 256-bit amount times an 18-digit price cannot overflow.
func Quote(amount *big.Int, srcPrice, dstPrice float64, srcDecimals, dstDecimals uint8) (*big.Int, error) {
	src, err := PriceToFixed(srcPrice)
	if err != nil {
		return nil, err
	}
	dst, err := PriceToFixed(dstPrice)
	if err != nil {
		return nil, err
	}

	num := getWide()
	num.Mul(amount, src)
	num.Mul(num, Pow10(dstDecimals))

	den := getWide()
	den.Mul(dst, Pow10(srcDecimals))

	result := new(big.Int).Quo(num, den)

	putWide(num)
	putWide(den)

	return result, nil
}
