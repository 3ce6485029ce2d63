package clients

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// Repository provides PostgreSQL backed persistence for clients.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const clientColumns = `id, name, phone, address, debt_cents, created_at, updated_at`

// Create inserts a new client row.
func (r *Repository) Create(ctx context.Context, client Client) (*Client, error) {
	now := time.Now()
	err := r.pool.QueryRow(ctx, `INSERT INTO clients (name, phone, address, debt_cents, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		client.Name, client.Phone, client.Address, client.DebtCents, now).Scan(&client.ID)
	if err != nil {
		return nil, err
	}
	client.CreatedAt = now
	return &client, nil
}

// Get loads a client by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.DebtCents, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.NotFoundf("client %d", id)
		}
		return nil, err
	}
	return &c, nil
}

// Update rewrites a client's identity fields.
func (r *Repository) Update(ctx context.Context, client Client) (*Client, error) {
	_, err := r.pool.Exec(ctx, `UPDATE clients SET name = $1, phone = $2, address = $3, updated_at = $4 WHERE id = $5`,
		client.Name, client.Phone, client.Address, time.Now(), client.ID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, client.ID)
}

// Delete removes a client row. Cancelled orders and ledger records still
// reference the client, so they are purged first in the same transaction;
// any reference the purge did not cover blocks the delete as a conflict.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id IN (
SELECT id FROM orders WHERE client_id = $1 AND status = 'CANCELLED')`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE client_id = $1 AND status = 'CANCELLED'`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM debt_adjustments WHERE client_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id); err != nil {
		if isForeignKeyViolation(err) {
			return shared.Conflictf("client %d is referenced by orders or invoices", id)
		}
		return err
	}
	return tx.Commit(ctx)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// List returns clients whose name matches the search term, ordered by name.
func (r *Repository) List(ctx context.Context, search string, limit, offset int) ([]Client, int, error) {
	pattern := "%" + search + "%"

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM clients WHERE name ILIKE $1`, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients WHERE name ILIKE $1 ORDER BY name LIMIT $2 OFFSET $3`,
		pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.DebtCents, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// AdjustDebt appends a ledger record and updates the cached balance in one
// transaction. The row lock on the client serializes concurrent adjustments
// for the same client; different clients proceed in parallel.
func (r *Repository) AdjustDebt(ctx context.Context, clientID, deltaCents int64, typ AdjustmentType, notes *string) (*Client, *DebtAdjustment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	adj, err := AdjustDebtTx(ctx, tx, clientID, deltaCents, typ, notes)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	client, err := r.Get(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}
	return client, adj, nil
}

// ListAdjustments returns ledger records newest first, optionally scoped to
// one client.
func (r *Repository) ListAdjustments(ctx context.Context, clientID *int64, limit, offset int) ([]DebtAdjustment, int, error) {
	where := ``
	args := []any{}
	if clientID != nil {
		where = ` WHERE client_id = $1`
		args = append(args, *clientID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM debt_adjustments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	query := `SELECT id, client_id, previous_debt_cents, new_debt_cents, adjustment_cents, type, notes, created_at
FROM debt_adjustments` + where + ` ORDER BY id DESC LIMIT $` + strconv.Itoa(limitPos) + ` OFFSET $` + strconv.Itoa(limitPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []DebtAdjustment
	for rows.Next() {
		var a DebtAdjustment
		if err := rows.Scan(&a.ID, &a.ClientID, &a.PreviousDebtCents, &a.NewDebtCents, &a.AdjustmentCents, &a.Type, &a.Notes, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// HasOpenOrders reports whether the client still has orders that are not
// cancelled.
func (r *Repository) HasOpenOrders(ctx context.Context, clientID int64) (bool, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE client_id = $1 AND status <> 'CANCELLED'`, clientID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

