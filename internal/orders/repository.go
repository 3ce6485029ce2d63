package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-billing/meridian-billing/internal/clients"
	"github.com/meridian-billing/meridian-billing/internal/money"
	"github.com/meridian-billing/meridian-billing/internal/platform/db"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// Repository provides PostgreSQL backed persistence for orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, order_number, client_id, status, notes, discount_percent, tax_percent,
	issue_date, due_date, client_debt_snapshot_cents, subtotal_cents, discount_cents, tax_cents,
	total_cents, currency, created_at, updated_at`

const itemColumns = `id, order_id, product_id, name_snapshot, sku_snapshot, qty, unit_price_cents,
	discount_percent, currency, total_cents, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ClientID, &o.Status, &o.Notes, &o.DiscountPercent,
		&o.TaxPercent, &o.IssueDate, &o.DueDate, &o.ClientDebtSnapshotCents, &o.SubtotalCents,
		&o.DiscountCents, &o.TaxCents, &o.TotalCents, &o.Currency, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanItems(rows pgx.Rows) ([]OrderItem, error) {
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.NameSnapshot, &it.SKUSnapshot,
			&it.Qty, &it.UnitPriceCents, &it.DiscountPercent, &it.Currency, &it.TotalCents, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// generateNumber yields the next ORD-YYYY-NNNN for the issue year. Callers
// hold a transaction, so concurrent creates in the same year serialize on
// the unique index over order_number.
func generateNumber(ctx context.Context, tx pgx.Tx, issueDate time.Time) (string, error) {
	var count int64
	err := tx.QueryRow(ctx,
		`SELECT count(*) FROM orders WHERE date_part('year', issue_date) = $1`,
		issueDate.Year()).Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%04d", issueDate.Year(), count+1), nil
}

// adjustClientDebt settles a debt delta against the ledger inside the
// surrounding transaction.
func adjustClientDebt(ctx context.Context, tx pgx.Tx, clientID int64, delta money.Cents, typ clients.AdjustmentType, note string) error {
	_, err := clients.AdjustDebtTx(ctx, tx, clientID, int64(delta), typ, &note)
	return err
}

// Create persists the order with its items, snapshots the client's balance
// and charges the order total, all in one transaction.
func (r *Repository) Create(ctx context.Context, order Order, items []OrderItem) (*Detail, error) {
	var created *Order
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var snapshot money.Cents
		err := tx.QueryRow(ctx, `SELECT debt_cents FROM clients WHERE id = $1 FOR UPDATE`, order.ClientID).Scan(&snapshot)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NotFoundf("client %d not found", order.ClientID)
		}
		if err != nil {
			return err
		}
		order.ClientDebtSnapshotCents = &snapshot

		order.OrderNumber, err = generateNumber(ctx, tx, order.IssueDate)
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO orders (order_number, client_id, status, notes, discount_percent, tax_percent,
				issue_date, due_date, client_debt_snapshot_cents, subtotal_cents, discount_cents,
				tax_cents, total_cents, currency)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 RETURNING `+orderColumns,
			order.OrderNumber, order.ClientID, order.Status, order.Notes, order.DiscountPercent,
			order.TaxPercent, order.IssueDate, order.DueDate, order.ClientDebtSnapshotCents,
			order.SubtotalCents, order.DiscountCents, order.TaxCents, order.TotalCents, order.Currency)
		created, err = scanOrder(row)
		if err != nil {
			return err
		}

		for _, item := range items {
			_, err := tx.Exec(ctx,
				`INSERT INTO order_items (order_id, product_id, name_snapshot, sku_snapshot, qty,
					unit_price_cents, discount_percent, currency, total_cents)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				created.ID, item.ProductID, item.NameSnapshot, item.SKUSnapshot, item.Qty,
				item.UnitPriceCents, item.DiscountPercent, item.Currency, item.TotalCents)
			if err != nil {
				return err
			}
		}

		if created.TotalCents != 0 {
			return adjustClientDebt(ctx, tx, created.ClientID, created.TotalCents,
				clients.AdjustmentOrderCharge, "order "+created.OrderNumber)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetDetail(ctx, created.ID)
}

func (r *Repository) Get(ctx context.Context, id int64) (*Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.NotFoundf("order %d not found", id)
	}
	return order, err
}

func (r *Repository) GetDetail(ctx context.Context, id int64) (*Detail, error) {
	order, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	var clientName string
	if err := r.pool.QueryRow(ctx, `SELECT name FROM clients WHERE id = $1`, order.ClientID).Scan(&clientName); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return &Detail{
		Order:      *order,
		ClientName: clientName,
		Items:      items,
		Totals:     ComputeTotals(items, order.DiscountPercent, order.TaxPercent),
	}, nil
}

func (r *Repository) List(ctx context.Context, search string, status *Status, clientID *int64, limit, offset int) ([]Order, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if search != "" {
		args = append(args, "%"+search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (o.order_number ILIKE $` + n + ` OR c.name ILIKE $` + n + `)`
	}
	if status != nil {
		args = append(args, *status)
		where += ` AND o.status = $` + strconv.Itoa(len(args))
	}
	if clientID != nil {
		args = append(args, *clientID)
		where += ` AND o.client_id = $` + strconv.Itoa(len(args))
	}

	from := ` FROM orders o JOIN clients c ON c.id = o.client_id`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.order_number, o.client_id, o.status, o.notes, o.discount_percent, o.tax_percent,
			o.issue_date, o.due_date, o.client_debt_snapshot_cents, o.subtotal_cents, o.discount_cents,
			o.tax_cents, o.total_cents, o.currency, o.created_at, o.updated_at`+from+where+
			` ORDER BY o.id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.ClientID, &o.Status, &o.Notes, &o.DiscountPercent,
			&o.TaxPercent, &o.IssueDate, &o.DueDate, &o.ClientDebtSnapshotCents, &o.SubtotalCents,
			&o.DiscountCents, &o.TaxCents, &o.TotalCents, &o.Currency, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// lockOrder loads the order under FOR UPDATE.
func lockOrder(ctx context.Context, tx pgx.Tx, id int64) (*Order, error) {
	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.NotFoundf("order %d not found", id)
	}
	return order, err
}

func (r *Repository) Transition(ctx context.Context, id int64, next Status) (*Order, error) {
	var updated *Order
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(next) {
			return shared.InvalidStatef("order %s cannot move from %s to %s", order.OrderNumber, order.Status, next)
		}
		row := tx.QueryRow(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+orderColumns,
			id, next)
		updated, err = scanOrder(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *Repository) Cancel(ctx context.Context, id int64) (*Order, error) {
	var updated *Order
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(StatusCancelled) {
			return shared.InvalidStatef("order %s cannot be cancelled from %s", order.OrderNumber, order.Status)
		}
		var invoiced bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE order_id = $1)`, id).Scan(&invoiced); err != nil {
			return err
		}
		if invoiced {
			return shared.Conflictf("order %s has an invoice; void the invoice first", order.OrderNumber)
		}
		if order.TotalCents != 0 {
			if err := adjustClientDebt(ctx, tx, order.ClientID, -order.TotalCents,
				clients.AdjustmentOrderReversal, "cancel order "+order.OrderNumber); err != nil {
				return err
			}
		}
		row := tx.QueryRow(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+orderColumns,
			id, StatusCancelled)
		updated, err = scanOrder(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// repriceLocked recomputes totals from the order's current items, writes them
// back and settles the debt delta against the previous total.
func repriceLocked(ctx context.Context, tx pgx.Tx, order *Order) (*Order, error) {
	rows, err := tx.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return nil, err
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	totals := ComputeTotals(items, order.DiscountPercent, order.TaxPercent)

	delta := totals.TotalCents - order.TotalCents
	snapshot := order.ClientDebtSnapshotCents
	if delta != 0 {
		typ := clients.AdjustmentOrderCharge
		if delta < 0 {
			typ = clients.AdjustmentOrderReversal
		}
		note := "reprice order " + order.OrderNumber
		adj, err := clients.AdjustDebtTx(ctx, tx, order.ClientID, int64(delta), typ, &note)
		if err != nil {
			return nil, err
		}
		// Refresh the balance snapshot to the pre-charge head, matching
		// what Create records.
		prev := money.Cents(adj.PreviousDebtCents)
		snapshot = &prev
	}

	row := tx.QueryRow(ctx,
		`UPDATE orders SET subtotal_cents = $2, discount_cents = $3, tax_cents = $4, total_cents = $5,
			client_debt_snapshot_cents = $6, updated_at = now() WHERE id = $1 RETURNING `+orderColumns,
		order.ID, totals.SubtotalCents, totals.DiscountCents, totals.TaxCents, totals.TotalCents, snapshot)
	return scanOrder(row)
}

func (r *Repository) AddItem(ctx context.Context, orderID int64, item OrderItem) (*Detail, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return shared.InvalidStatef("order %s is %s", order.OrderNumber, order.Status)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, name_snapshot, sku_snapshot, qty,
				unit_price_cents, discount_percent, currency, total_cents)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			orderID, item.ProductID, item.NameSnapshot, item.SKUSnapshot, item.Qty,
			item.UnitPriceCents, item.DiscountPercent, item.Currency, item.TotalCents)
		if err != nil {
			return err
		}
		_, err = repriceLocked(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetDetail(ctx, orderID)
}

func (r *Repository) UpdateItem(ctx context.Context, orderID, itemID int64, qty, discountPercent int) (*Detail, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return shared.InvalidStatef("order %s is %s", order.OrderNumber, order.Status)
		}
		var unitPrice money.Cents
		err = tx.QueryRow(ctx,
			`SELECT unit_price_cents FROM order_items WHERE id = $1 AND order_id = $2`,
			itemID, orderID).Scan(&unitPrice)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NotFoundf("item %d not found on order %d", itemID, orderID)
		}
		if err != nil {
			return err
		}
		total := money.LineTotal(qty, unitPrice, discountPercent)
		_, err = tx.Exec(ctx,
			`UPDATE order_items SET qty = $3, discount_percent = $4, total_cents = $5 WHERE id = $1 AND order_id = $2`,
			itemID, orderID, qty, discountPercent, total)
		if err != nil {
			return err
		}
		_, err = repriceLocked(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetDetail(ctx, orderID)
}

// Update rewrites header fields under the row lock. A changed percent runs
// the order through repricing so the debt delta settles in the same
// transaction.
func (r *Repository) Update(ctx context.Context, id int64, input UpdateInput) (*Detail, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return shared.InvalidStatef("order %s is %s", order.OrderNumber, order.Status)
		}
		if input.Notes != nil {
			order.Notes = input.Notes
		}
		if input.DueDate != nil {
			order.DueDate = input.DueDate
		}
		reprice := false
		if input.DiscountPercent != nil && *input.DiscountPercent != order.DiscountPercent {
			order.DiscountPercent = *input.DiscountPercent
			reprice = true
		}
		if input.TaxPercent != nil && *input.TaxPercent != order.TaxPercent {
			order.TaxPercent = *input.TaxPercent
			reprice = true
		}
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET notes = $2, due_date = $3, discount_percent = $4, tax_percent = $5, updated_at = now()
			 WHERE id = $1`,
			id, order.Notes, order.DueDate, order.DiscountPercent, order.TaxPercent); err != nil {
			return err
		}
		if !reprice {
			return nil
		}
		_, err = repriceLocked(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetDetail(ctx, id)
}

func (r *Repository) RemoveItem(ctx context.Context, orderID, itemID int64) (*Detail, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return shared.InvalidStatef("order %s is %s", order.OrderNumber, order.Status)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM order_items WHERE id = $1 AND order_id = $2`, itemID, orderID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFoundf("item %d not found on order %d", itemID, orderID)
		}
		_, err = repriceLocked(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetDetail(ctx, orderID)
}
