package common

import "math"

// RoundQty rounds a quantity toward zero onto the symbol's lot increment and
// quantity precision. Rounding never goes up, so the notional value placed
// can never exceed the computed allocation.
func RoundQty(info LotInfo, qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	if info.LotStep > 0 {
		// Nudge by an epsilon so exact multiples survive float division.
		steps := math.Floor(qty/info.LotStep + 1e-9)
		qty = steps * info.LotStep
	}
	return truncate(qty, info.QtyDecimals)
}

// RoundPrice truncates a price to the symbol's price precision.
func RoundPrice(info LotInfo, price float64) float64 {
	return truncate(price, info.PriceDecimals)
}

func truncate(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	pow := math.Pow(10, float64(decimals))
	return math.Trunc(v*pow+1e-9) / pow
}
