package products

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the product catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, name, sku, description, unit_price_cents, currency, active, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Description, &p.UnitPriceCents, &p.Currency, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) Create(ctx context.Context, product Product) (*Product, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, sku, description, unit_price_cents, currency, active) VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+productColumns,
		product.Name, product.SKU, product.Description, product.UnitPriceCents, product.Currency, product.Active)
	return scanProduct(row)
}

func (r *Repository) Get(ctx context.Context, id int64) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	product, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.NotFoundf("product %d not found", id)
	}
	return product, err
}

func (r *Repository) Update(ctx context.Context, product Product) (*Product, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE products SET name = $2, sku = $3, description = $4, unit_price_cents = $5, currency = $6, updated_at = now() WHERE id = $1 RETURNING `+productColumns,
		product.ID, product.Name, product.SKU, product.Description, product.UnitPriceCents, product.Currency)
	updated, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.NotFoundf("product %d not found", product.ID)
	}
	return updated, err
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("product %d not found", id)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if search != "" {
		args = append(args, "%"+search+"%")
		where += ` AND name ILIKE $` + strconv.Itoa(len(args))
	}
	if activeOnly {
		where += ` AND active`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products`+where+
			` ORDER BY name LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Description, &p.UnitPriceCents, &p.Currency, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) SetActive(ctx context.Context, id int64, active bool) (*Product, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE products SET active = $2, updated_at = now() WHERE id = $1 RETURNING `+productColumns,
		id, active)
	product, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.NotFoundf("product %d not found", id)
	}
	return product, err
}

func (r *Repository) Usage(ctx context.Context, id int64) (*UsageStats, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, shared.NotFoundf("product %d not found", id)
	}
	stats := UsageStats{ProductID: id}
	// Cancelled orders keep their snapshots but do not block deletion.
	if err := r.pool.QueryRow(ctx,
		`SELECT count(DISTINCT oi.order_id)
		 FROM order_items oi
		 JOIN orders o ON o.id = oi.order_id
		 WHERE oi.product_id = $1 AND o.status <> 'CANCELLED'`, id).Scan(&stats.OrderCount); err != nil {
		return nil, err
	}
	// Standalone invoice lines reference products without a backing order.
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM invoice_items WHERE product_id = $1`, id).Scan(&stats.InvoiceLineCount); err != nil {
		return nil, err
	}
	return &stats, nil
}
