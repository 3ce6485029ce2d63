package reporting

import (
	"github.com/meridian-billing/meridian-billing/internal/money"
)

// Dashboard aggregates the month's billing activity. Revenue figures are
// cash basis: payments bucketed by when they were received.
type Dashboard struct {
	TotalOrdersMonth            int             `json:"total_orders_month"`
	TotalInvoicesMonth          int             `json:"total_invoices_month"`
	PaymentsCollectedMonthCents money.Cents     `json:"payments_collected_month_cents"`
	OutstandingInvoicesCount    int             `json:"outstanding_invoices_count"`
	RevenueByMonth              []MonthRevenue  `json:"revenue_by_month"`
	TopClients                  []ClientRevenue `json:"top_clients"`
}

// MonthRevenue is one month's collected payments. Month is formatted
// YYYY-MM.
type MonthRevenue struct {
	Month       string      `json:"month"`
	AmountCents money.Cents `json:"amount_cents"`
}

// ClientRevenue ranks a client by total paid. Ties break by client id
// ascending so the ordering is stable.
type ClientRevenue struct {
	ClientID  int64       `json:"client_id"`
	Name      string      `json:"name"`
	PaidCents money.Cents `json:"paid_cents"`
}
