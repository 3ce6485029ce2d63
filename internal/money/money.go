// Package money implements fixed-point cent arithmetic for the billing core.
// Monetary amounts are integer minor units everywhere; no float ever enters
// a calculation or crosses a serialization boundary.
package money

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Cents is an amount in minor currency units.
type Cents = int64

// DefaultCurrency is applied when a draft line omits its currency code.
const DefaultCurrency = "USD"

// RoundHalfUpPercent applies pct (0-100) to base with round-half-up at the
// cent. Rounding happens once per call so each pricing stage rounds exactly
// once.
func RoundHalfUpPercent(base Cents, pct int) Cents {
	if pct == 0 || base == 0 {
		return 0
	}
	raw := base * int64(pct)
	if raw >= 0 {
		return (raw + 50) / 100
	}
	return -((-raw + 50) / 100)
}

// LineTotal computes a snapshot line's total: qty times unit price, less the
// line discount percentage.
func LineTotal(qty int, unitPriceCents Cents, discountPct int) Cents {
	base := int64(qty) * unitPriceCents
	return base - RoundHalfUpPercent(base, discountPct)
}

var display = message.NewPrinter(language.English)

// Format renders cents as a human-readable amount with its currency code,
// e.g. 1234567 -> "12,345.67 USD". Display only; never parsed back.
func Format(cents Cents, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return display.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}

// ValidPercent reports whether pct is usable as a discount or tax rate.
func ValidPercent(pct int) bool {
	return pct >= 0 && pct <= 100
}
