// Package money centralizes the rounding policy for quantities and amounts.
//
// Quantities and line costs round to 2 decimals at each consumption step,
// average unit costs to 4, and stock totals floor to 2. The per-step rounding
// is load-bearing: repeated small allocations may drift a few cents versus one
// large allocation, and stored figures depend on that behavior.
package money

import "github.com/shopspring/decimal"

// Round2 rounds half away from zero to 2 decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Round4 rounds half away from zero to 4 decimal places.
func Round4(d decimal.Decimal) decimal.Decimal {
	return d.Round(4)
}

// Floor2 rounds down to 2 decimal places. Used for stock totals
// shown to callers, which must never overstate availability.
func Floor2(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(2)
}

// NormalizeQty applies the unit's quantity granularity: count units sell in
// whole pieces, weight units in hundredths (e.g. 1.25 lb).
func NormalizeQty(unit string, qty decimal.Decimal) decimal.Decimal {
	if unit == "count" {
		return qty.Round(0)
	}
	return qty.Round(2)
}
