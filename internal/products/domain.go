package products

import (
	"time"

	"github.com/meridian-billing/meridian-billing/internal/money"
)

// Product is a sellable item in the catalog. Prices are integer cents.
type Product struct {
	ID             int64       `json:"id"`
	Name           string      `json:"name"`
	SKU            *string     `json:"sku,omitempty"`
	Description    *string     `json:"description,omitempty"`
	UnitPriceCents money.Cents `json:"unit_price_cents"`
	Currency       string      `json:"currency"`
	Active         bool        `json:"active"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      *time.Time  `json:"updated_at,omitempty"`
}

// UsageStats reports how often a product appears on orders and invoice
// lines. Products with any usage cannot be deleted, only deactivated.
type UsageStats struct {
	ProductID        int64 `json:"product_id"`
	OrderCount       int   `json:"order_count"`
	InvoiceLineCount int   `json:"invoice_line_count"`
}
