package orders

import (
	"time"

	"github.com/meridian-billing/meridian-billing/internal/money"
)

// Status enumerates order lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusConfirmed Status = "CONFIRMED"
	StatusFulfilled Status = "FULFILLED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusConfirmed, StatusFulfilled, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the order can no longer change.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusCancelled
}

// CanTransition reports whether the status machine permits moving to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusFulfilled || next == StatusCancelled
	}
	return false
}

// Order is a priced sales order. Line items carry snapshots of the product
// at the time they were added; later catalog edits never reprice an order.
type Order struct {
	ID                      int64        `json:"id"`
	OrderNumber             string       `json:"order_number"`
	ClientID                int64        `json:"client_id"`
	Status                  Status       `json:"status"`
	Notes                   *string      `json:"notes,omitempty"`
	DiscountPercent         int          `json:"discount_percent"`
	TaxPercent              int          `json:"tax_percent"`
	IssueDate               time.Time    `json:"issue_date"`
	DueDate                 *time.Time   `json:"due_date,omitempty"`
	ClientDebtSnapshotCents *money.Cents `json:"client_debt_snapshot_cents,omitempty"`
	SubtotalCents           money.Cents  `json:"subtotal_cents"`
	DiscountCents           money.Cents  `json:"discount_cents"`
	TaxCents                money.Cents  `json:"tax_cents"`
	TotalCents              money.Cents  `json:"total_cents"`
	Currency                string       `json:"currency"`
	CreatedAt               time.Time    `json:"created_at"`
	UpdatedAt               *time.Time   `json:"updated_at,omitempty"`
}

// OrderItem is a snapshot line. ProductID is informational; the snapshot
// fields are authoritative and survive product deletion.
type OrderItem struct {
	ID              int64       `json:"id"`
	OrderID         int64       `json:"order_id"`
	ProductID       *int64      `json:"product_id,omitempty"`
	NameSnapshot    string      `json:"name_snapshot"`
	SKUSnapshot     *string     `json:"sku_snapshot,omitempty"`
	Qty             int         `json:"qty"`
	UnitPriceCents  money.Cents `json:"unit_price_cents"`
	DiscountPercent int         `json:"discount_percent"`
	Currency        string      `json:"currency"`
	TotalCents      money.Cents `json:"total_cents"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Detail is the full read model for one order.
type Detail struct {
	Order      Order       `json:"order"`
	ClientName string      `json:"client_name,omitempty"`
	Items      []OrderItem `json:"items"`
	Totals     Totals      `json:"totals"`
}
