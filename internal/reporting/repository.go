package reporting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-billing/meridian-billing/internal/money"
)

// Repository runs the dashboard aggregation queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func monthBounds(ref time.Time) (time.Time, time.Time) {
	start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	return start, start.AddDate(0, 1, 0)
}

// CountOrdersInMonth counts orders issued in the reference month, cancelled
// included.
func (r *Repository) CountOrdersInMonth(ctx context.Context, ref time.Time) (int, error) {
	start, end := monthBounds(ref)
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM orders WHERE issue_date >= $1 AND issue_date < $2`,
		start, end).Scan(&count)
	return count, err
}

// CountInvoicesInMonth counts non-void invoices issued in the reference month.
func (r *Repository) CountInvoicesInMonth(ctx context.Context, ref time.Time) (int, error) {
	start, end := monthBounds(ref)
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM invoices WHERE issue_date >= $1 AND issue_date < $2 AND status <> 'VOID'`,
		start, end).Scan(&count)
	return count, err
}

// PaymentsCollectedInMonth sums payments received in the reference month.
func (r *Repository) PaymentsCollectedInMonth(ctx context.Context, ref time.Time) (money.Cents, error) {
	start, end := monthBounds(ref)
	var total money.Cents
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(amount_cents), 0) FROM payments WHERE paid_at >= $1 AND paid_at < $2`,
		start, end).Scan(&total)
	return total, err
}

// CountOutstandingInvoices counts non-void invoices whose recorded payments
// do not cover the total.
func (r *Repository) CountOutstandingInvoices(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM invoices i
		 WHERE i.status <> 'VOID'
		   AND i.total_cents > COALESCE((SELECT sum(p.amount_cents) FROM payments p WHERE p.invoice_id = i.id), 0)`).
		Scan(&count)
	return count, err
}

// RevenueByMonth buckets payments by the month they were received, oldest
// first, covering the given number of months up to the reference month.
func (r *Repository) RevenueByMonth(ctx context.Context, ref time.Time, months int) ([]MonthRevenue, error) {
	start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location()).AddDate(0, -(months - 1), 0)
	rows, err := r.pool.Query(ctx,
		`SELECT to_char(date_trunc('month', paid_at), 'YYYY-MM') AS month, sum(amount_cents)
		 FROM payments WHERE paid_at >= $1
		 GROUP BY 1 ORDER BY 1`, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthRevenue
	for rows.Next() {
		var m MonthRevenue
		if err := rows.Scan(&m.Month, &m.AmountCents); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TopClients ranks clients by total paid, ties broken by client id ascending.
func (r *Repository) TopClients(ctx context.Context, limit int) ([]ClientRevenue, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.name, COALESCE(sum(p.amount_cents), 0) AS paid
		 FROM payments p
		 JOIN invoices i ON i.id = p.invoice_id
		 JOIN clients c ON c.id = i.client_id
		 GROUP BY c.id, c.name
		 ORDER BY paid DESC, c.id ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClientRevenue
	for rows.Next() {
		var c ClientRevenue
		if err := rows.Scan(&c.ClientID, &c.Name, &c.PaidCents); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
