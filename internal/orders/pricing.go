package orders

import (
	"github.com/meridian-billing/meridian-billing/internal/money"
)

// Totals is the three-stage pricing result: per-line discounts are already
// inside Subtotal, the order discount applies to Subtotal, and tax applies
// to the discounted base.
type Totals struct {
	SubtotalCents money.Cents `json:"subtotal_cents"`
	DiscountCents money.Cents `json:"discount_cents"`
	TaxCents      money.Cents `json:"tax_cents"`
	TotalCents    money.Cents `json:"total_cents"`
}

// ComputeTotals prices a set of snapshot lines. It is pure: recomputing over
// unchanged lines always yields the same result.
func ComputeTotals(items []OrderItem, discountPercent, taxPercent int) Totals {
	var subtotal money.Cents
	for _, item := range items {
		subtotal += item.TotalCents
	}
	discount := money.RoundHalfUpPercent(subtotal, discountPercent)
	tax := money.RoundHalfUpPercent(subtotal-discount, taxPercent)
	return Totals{
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TaxCents:      tax,
		TotalCents:    subtotal - discount + tax,
	}
}

// priceItem fills the line total from qty, unit price and line discount.
func priceItem(item OrderItem) OrderItem {
	item.TotalCents = money.LineTotal(item.Qty, item.UnitPriceCents, item.DiscountPercent)
	if item.Currency == "" {
		item.Currency = money.DefaultCurrency
	}
	return item
}
