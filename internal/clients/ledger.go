package clients

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// AdjustDebtTx appends a ledger record and moves the cached balance inside
// the caller's transaction. The FOR UPDATE lock on the client row serializes
// concurrent adjustments for the same client; order and invoice repositories
// use this to settle debt in the same unit of work as their own writes.
func AdjustDebtTx(ctx context.Context, tx pgx.Tx, clientID, deltaCents int64, typ AdjustmentType, notes *string) (*DebtAdjustment, error) {
	var previous int64
	err := tx.QueryRow(ctx, `SELECT debt_cents FROM clients WHERE id = $1 FOR UPDATE`, clientID).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.NotFoundf("client %d", clientID)
		}
		return nil, err
	}

	now := time.Now()
	adj := DebtAdjustment{
		ClientID:          clientID,
		PreviousDebtCents: previous,
		NewDebtCents:      previous + deltaCents,
		AdjustmentCents:   deltaCents,
		Type:              typ,
		Notes:             notes,
		CreatedAt:         now,
	}
	err = tx.QueryRow(ctx, `INSERT INTO debt_adjustments (client_id, previous_debt_cents, new_debt_cents, adjustment_cents, type, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		adj.ClientID, adj.PreviousDebtCents, adj.NewDebtCents, adj.AdjustmentCents, adj.Type, adj.Notes, now).Scan(&adj.ID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE clients SET debt_cents = $1, updated_at = $2 WHERE id = $3`,
		adj.NewDebtCents, now, clientID); err != nil {
		return nil, err
	}
	return &adj, nil
}
