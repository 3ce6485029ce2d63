package invoices

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-billing/meridian-billing/internal/clients"
	"github.com/meridian-billing/meridian-billing/internal/money"
	"github.com/meridian-billing/meridian-billing/internal/platform/db"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// Repository provides PostgreSQL backed persistence for invoices.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invoiceColumns = `id, invoice_number, order_id, client_id, status, issue_date, due_date, notes,
	subtotal_cents, discount_percent, tax_percent, total_cents, currency, created_at, updated_at`

const paymentColumns = `id, invoice_id, amount_cents, method, reference, paid_at, notes, created_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.OrderID, &inv.ClientID, &inv.Status,
		&inv.IssueDate, &inv.DueDate, &inv.Notes, &inv.SubtotalCents, &inv.DiscountPercent,
		&inv.TaxPercent, &inv.TotalCents, &inv.Currency, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func generateNumber(ctx context.Context, tx pgx.Tx, issueDate time.Time) (string, error) {
	var count int64
	err := tx.QueryRow(ctx,
		`SELECT count(*) FROM invoices WHERE date_part('year', issue_date) = $1`,
		issueDate.Year()).Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%d-%04d", issueDate.Year(), count+1), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create persists the invoice with its items. The unique index on order_id
// turns a second generation attempt for the same order into ErrConflict.
func (r *Repository) Create(ctx context.Context, invoice Invoice, items []InvoiceItem) (*Detail, error) {
	var created *Invoice
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		invoice.InvoiceNumber, err = generateNumber(ctx, tx, invoice.IssueDate)
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO invoices (invoice_number, order_id, client_id, status, issue_date, due_date,
				notes, subtotal_cents, discount_percent, tax_percent, total_cents, currency)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 RETURNING `+invoiceColumns,
			invoice.InvoiceNumber, invoice.OrderID, invoice.ClientID, invoice.Status,
			invoice.IssueDate, invoice.DueDate, invoice.Notes, invoice.SubtotalCents,
			invoice.DiscountPercent, invoice.TaxPercent, invoice.TotalCents, invoice.Currency)
		created, err = scanInvoice(row)
		if err != nil {
			if isUniqueViolation(err) && invoice.OrderID != nil {
				return shared.Conflictf("order %d already has an invoice", *invoice.OrderID)
			}
			return err
		}

		for _, item := range items {
			_, err := tx.Exec(ctx,
				`INSERT INTO invoice_items (invoice_id, product_id, name_snapshot, sku_snapshot, qty,
					unit_price_cents, currency, total_cents)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				created.ID, item.ProductID, item.NameSnapshot, item.SKUSnapshot, item.Qty,
				item.UnitPriceCents, item.Currency, item.TotalCents)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetDetail(ctx, created.ID)
}

func (r *Repository) Get(ctx context.Context, id int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	invoice, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.NotFoundf("invoice %d not found", id)
	}
	return invoice, err
}

func (r *Repository) loadItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, product_id, name_snapshot, sku_snapshot, qty, unit_price_cents,
			currency, total_cents, created_at
		 FROM invoice_items WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.NameSnapshot, &it.SKUSnapshot,
			&it.Qty, &it.UnitPriceCents, &it.Currency, &it.TotalCents, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) loadPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountCents, &p.Method, &p.Reference,
			&p.PaidAt, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *Repository) GetDetail(ctx context.Context, id int64) (*Detail, error) {
	invoice, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := r.loadPayments(ctx, id)
	if err != nil {
		return nil, err
	}
	var paid money.Cents
	for _, p := range payments {
		paid += p.AmountCents
	}
	var clientName string
	if err := r.pool.QueryRow(ctx, `SELECT name FROM clients WHERE id = $1`, invoice.ClientID).Scan(&clientName); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return &Detail{
		Invoice:      *invoice,
		ClientName:   clientName,
		Items:        items,
		Payments:     payments,
		PaidCents:    paid,
		BalanceCents: invoice.TotalCents - paid,
	}, nil
}

func (r *Repository) List(ctx context.Context, search string, status *Status, limit, offset int) ([]Invoice, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if search != "" {
		args = append(args, "%"+search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (i.invoice_number ILIKE $` + n + ` OR c.name ILIKE $` + n + `)`
	}
	if status != nil {
		args = append(args, *status)
		where += ` AND i.status = $` + strconv.Itoa(len(args))
	}

	from := ` FROM invoices i JOIN clients c ON c.id = i.client_id`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		`SELECT i.id, i.invoice_number, i.order_id, i.client_id, i.status, i.issue_date, i.due_date,
			i.notes, i.subtotal_cents, i.discount_percent, i.tax_percent, i.total_cents, i.currency,
			i.created_at, i.updated_at`+from+where+
			` ORDER BY i.id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.InvoiceNumber, &inv.OrderID, &inv.ClientID, &inv.Status,
			&inv.IssueDate, &inv.DueDate, &inv.Notes, &inv.SubtotalCents, &inv.DiscountPercent,
			&inv.TaxPercent, &inv.TotalCents, &inv.Currency, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

func lockInvoice(ctx context.Context, tx pgx.Tx, id int64) (*Invoice, error) {
	row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	invoice, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.NotFoundf("invoice %d not found", id)
	}
	return invoice, err
}

func (r *Repository) Issue(ctx context.Context, id int64) (*Invoice, error) {
	var updated *Invoice
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		invoice, err := lockInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice.Status != StatusDraft {
			return shared.InvalidStatef("invoice %s is %s, only drafts can be issued", invoice.InvoiceNumber, invoice.Status)
		}
		var itemCount int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM invoice_items WHERE invoice_id = $1`, id).Scan(&itemCount); err != nil {
			return err
		}
		if itemCount == 0 {
			return shared.InvalidStatef("invoice %s has no items", invoice.InvoiceNumber)
		}
		if invoice.TotalCents < 0 {
			return shared.InvalidStatef("invoice %s has a negative total", invoice.InvoiceNumber)
		}
		// A zero-total invoice has nothing to collect; the balance guard
		// settles it immediately so balance 0 always means PAID.
		next := StatusIssued
		if invoice.TotalCents == 0 {
			next = statusForBalance(0)
		}
		row := tx.QueryRow(ctx,
			`UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+invoiceColumns,
			id, next)
		updated, err = scanInvoice(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *Repository) Void(ctx context.Context, id int64) (*Invoice, error) {
	var updated *Invoice
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		invoice, err := lockInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice.Status.Terminal() {
			return shared.InvalidStatef("invoice %s is %s", invoice.InvoiceNumber, invoice.Status)
		}
		var paymentCount int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM payments WHERE invoice_id = $1`, id).Scan(&paymentCount); err != nil {
			return err
		}
		if paymentCount > 0 {
			return shared.Conflictf("invoice %s has %d payments and cannot be voided", invoice.InvoiceNumber, paymentCount)
		}
		row := tx.QueryRow(ctx,
			`UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+invoiceColumns,
			id, StatusVoid)
		updated, err = scanInvoice(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RecordPayment appends the payment and derives the new status under the
// invoice row lock. Concurrent payments against the same invoice serialize;
// the derived status therefore reflects every payment that committed.
func (r *Repository) RecordPayment(ctx context.Context, invoiceID int64, payment Payment, creditOverpay bool) (*Detail, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		invoice, err := lockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if !invoice.Status.Payable() {
			return shared.InvalidStatef("invoice %s is %s and cannot accept payments", invoice.InvoiceNumber, invoice.Status)
		}

		var paidBefore money.Cents
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(sum(amount_cents), 0) FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&paidBefore); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO payments (invoice_id, amount_cents, method, reference, paid_at, notes)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			invoiceID, payment.AmountCents, payment.Method, payment.Reference, payment.PaidAt, payment.Notes)
		if err != nil {
			return err
		}

		balance := invoice.TotalCents - paidBefore - payment.AmountCents
		_, err = tx.Exec(ctx,
			`UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1`,
			invoiceID, statusForBalance(balance))
		if err != nil {
			return err
		}

		if creditOverpay {
			outstanding := invoice.TotalCents - paidBefore
			if outstanding < 0 {
				outstanding = 0
			}
			if overpay := payment.AmountCents - outstanding; overpay > 0 {
				note := "overpayment on invoice " + invoice.InvoiceNumber
				if _, err := clients.AdjustDebtTx(ctx, tx, invoice.ClientID, int64(-overpay),
					clients.AdjustmentPaymentCredit, &note); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetDetail(ctx, invoiceID)
}

func (r *Repository) ListPayments(ctx context.Context, invoiceID *int64, limit, offset int) ([]Payment, int, error) {
	where := ``
	args := []any{}
	if invoiceID != nil {
		where = ` WHERE invoice_id = $1`
		args = append(args, *invoiceID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments`+where+
			` ORDER BY id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountCents, &p.Method, &p.Reference,
			&p.PaidAt, &p.Notes, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// ListOverdue returns payable invoices whose due date passed.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE status IN ('ISSUED', 'PARTIALLY_PAID') AND due_date IS NOT NULL AND due_date < $1
		 ORDER BY due_date`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.InvoiceNumber, &inv.OrderID, &inv.ClientID, &inv.Status,
			&inv.IssueDate, &inv.DueDate, &inv.Notes, &inv.SubtotalCents, &inv.DiscountPercent,
			&inv.TaxPercent, &inv.TotalCents, &inv.Currency, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}
