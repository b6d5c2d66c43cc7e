package math

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// Resolution scales risk factors and interest rates (10000 = 100%).
	Resolution = 10_000

	// TimeFeePeriod is the period an interest rate is quoted over, in seconds.
	TimeFeePeriod = 86_400
)

var feeDenominator = big.NewInt(TimeFeePeriod * Resolution)

// DueFees accrues interest linearly from createdAt to now:
//
//	rate * (now - createdAt) * principal / (TimeFeePeriod * Resolution)
//
// A clock behind createdAt accrues nothing.
func DueFees(rate, principal, createdAt, now *uint256.Int) *big.Int {
	if now.Cmp(createdAt) <= 0 {
		return new(big.Int)
	}

	elapsed := getWide()
	elapsed.Sub(now.ToBig(), createdAt.ToBig())

	temp := getWide()
	temp.Mul(rate.ToBig(), elapsed)
	temp.Mul(temp, principal.ToBig())

	due := new(big.Int).Quo(temp, feeDenominator)

	putWide(elapsed)
	putWide(temp)

	return due
}

// PairRiskFactor is the mean of the two tokens' risk factors.
func PairRiskFactor(a, b *uint256.Int) *big.Int {
	sum := new(big.Int).Add(a.ToBig(), b.ToBig())
	return sum.Quo(sum, big.NewInt(2))
}
