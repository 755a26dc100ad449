package auction

import "math/big"

// Fixed-point helpers for chain-amount arithmetic. Decision math
// (profit ratios, health factors, effective values) is deliberately
// float64 throughout this package; these helpers are used only when
// converting a planner's float result into an outbound integer amount
// or when comparing against a filler's integer balance.

// halfUp returns floor(x/2) for x > 0, used as a rounding bias before
// truncating division so fixed-point conversions round half-up rather
// than truncating toward zero.
func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Rsh(x, 1)
}

// floatToScaled converts a float64 underlying amount into an integer
// scaled by 10^decimals, rounding half-up.
func floatToScaled(amount float64, decimals int) *big.Int {
	if amount <= 0 {
		return big.NewInt(0)
	}
	scale := pow10(decimals)
	scaled := new(big.Float).SetFloat64(amount*scale + 0.5)
	out, _ := scaled.Int(nil)
	return out
}

// maxAmount is the sentinel integer request amount meaning "withdraw
// or supply the entirety of the available balance/position."
var maxAmount = new(big.Int).Lsh(big.NewInt(1), 127)

// IsMaxAmount reports whether amount is the MAX sentinel.
func IsMaxAmount(amount *big.Int) bool {
	return amount != nil && amount.Cmp(maxAmount) == 0
}

// clampFloat clamps v into [lo, hi].
func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
