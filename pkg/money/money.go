// Package money fixes the single rounding boundary for all monetary values.
// Every balance, price, quantity and margin in the system is a
// decimal.Decimal quantized to Places fractional digits.
package money

import "github.com/shopspring/decimal"

// Places is the number of fractional digits carried by every monetary value.
// Matches the DECIMAL(30,7) columns of the ledger schema.
const Places = 7

// Round quantizes d to Places fractional digits (half-up).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// FromPercent converts a percentage (e.g. 10 for 10%) into a quantized rate.
func FromPercent(pct decimal.Decimal) decimal.Decimal {
	return Round(pct.Div(decimal.NewFromInt(100)))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
