package invoices

import (
	"time"

	"github.com/meridian-billing/meridian-billing/internal/money"
)

// Status enumerates invoice lifecycle states. PARTIALLY_PAID and PAID are
// derived from the recorded payments; callers never set them directly.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusIssued        Status = "ISSUED"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusVoid          Status = "VOID"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusIssued, StatusPartiallyPaid, StatusPaid, StatusVoid:
		return true
	}
	return false
}

// Terminal reports whether the invoice can no longer change.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusVoid
}

// Payable reports whether payments may be recorded in this state.
func (s Status) Payable() bool {
	return s == StatusIssued || s == StatusPartiallyPaid
}

// PaymentMethod enumerates how a payment was made.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodCard     PaymentMethod = "CARD"
	MethodTransfer PaymentMethod = "TRANSFER"
	MethodOther    PaymentMethod = "OTHER"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodOther:
		return true
	}
	return false
}

// Invoice is a billing document. Totals are fixed when the invoice is
// created and never recomputed from the catalog.
type Invoice struct {
	ID              int64       `json:"id"`
	InvoiceNumber   string      `json:"invoice_number"`
	OrderID         *int64      `json:"order_id,omitempty"`
	ClientID        int64       `json:"client_id"`
	Status          Status      `json:"status"`
	IssueDate       time.Time   `json:"issue_date"`
	DueDate         *time.Time  `json:"due_date,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	SubtotalCents   money.Cents `json:"subtotal_cents"`
	DiscountPercent int         `json:"discount_percent"`
	TaxPercent      int         `json:"tax_percent"`
	TotalCents      money.Cents `json:"total_cents"`
	Currency        string      `json:"currency"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       *time.Time  `json:"updated_at,omitempty"`
}

// InvoiceItem is a snapshot line. Unlike order items there is no per-line
// discount; any discount lives at the invoice level.
type InvoiceItem struct {
	ID             int64       `json:"id"`
	InvoiceID      int64       `json:"invoice_id"`
	ProductID      *int64      `json:"product_id,omitempty"`
	NameSnapshot   string      `json:"name_snapshot"`
	SKUSnapshot    *string     `json:"sku_snapshot,omitempty"`
	Qty            int         `json:"qty"`
	UnitPriceCents money.Cents `json:"unit_price_cents"`
	Currency       string      `json:"currency"`
	TotalCents     money.Cents `json:"total_cents"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Payment is an immutable receipt against an invoice.
type Payment struct {
	ID          int64         `json:"id"`
	InvoiceID   int64         `json:"invoice_id"`
	AmountCents money.Cents   `json:"amount_cents"`
	Method      PaymentMethod `json:"method"`
	Reference   *string       `json:"reference,omitempty"`
	PaidAt      time.Time     `json:"paid_at"`
	Notes       *string       `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Detail is the full read model for one invoice.
type Detail struct {
	Invoice      Invoice       `json:"invoice"`
	ClientName   string        `json:"client_name,omitempty"`
	Items        []InvoiceItem `json:"items"`
	Payments     []Payment     `json:"payments"`
	PaidCents    money.Cents   `json:"paid_cents"`
	BalanceCents money.Cents   `json:"balance_cents"`
}

// statusForBalance derives the post-payment status.
func statusForBalance(balance money.Cents) Status {
	if balance <= 0 {
		return StatusPaid
	}
	return StatusPartiallyPaid
}
