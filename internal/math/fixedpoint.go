package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// StablecoinConfig is the precision of all debt, fee, and value amounts.
	// Amounts are int64 in the coin's smallest unit.
	StablecoinConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001

	// PriceConfig is the precision of collateral price feeds.
	PriceConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

// SecondsPerYear is the fixed accrual-year length used for interest math.
const SecondsPerYear = 365 * 86400

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MulDiv computes floor(a * b / den) using int128 intermediates to prevent
// overflow. All rounding in the ledger is downward, never up.
// Panics if den == 0 — callers validate denominators at settings time.
func MulDiv(a, b, den int64) int64 {
	if den == 0 {
		panic("FATAL: MulDiv division by zero")
	}

	num := getInt128()
	num.Mul(big.NewInt(a), big.NewInt(b))

	num.Quo(num, big.NewInt(den))
	result := num.Int64()

	putInt128(num)

	return result
}

// MulDiv3 computes floor(a * b * c / (den1 * den2)). Used for the interest
// accrual chain (elapsed * debt * rateNum / rateDen / secondsPerYear) where
// the product of three int64 operands needs a wide intermediate.
func MulDiv3(a, b, c, den1, den2 int64) int64 {
	if den1 == 0 || den2 == 0 {
		panic("FATAL: MulDiv3 division by zero")
	}

	num := getInt128()
	num.Mul(big.NewInt(a), big.NewInt(b))
	num.Mul(num, big.NewInt(c))

	den := getInt128()
	den.Mul(big.NewInt(den1), big.NewInt(den2))

	num.Quo(num, den)
	result := num.Int64()

	putInt128(num)
	putInt128(den)

	return result
}
