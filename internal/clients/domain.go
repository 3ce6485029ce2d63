package clients

import "time"

// Client represents a customer account. DebtCents caches the head of the
// client's debt ledger and is only ever written by AdjustDebt.
type Client struct {
	ID        int64      `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Phone     *string    `json:"phone,omitempty" db:"phone"`
	Address   *string    `json:"address,omitempty" db:"address"`
	DebtCents int64      `json:"debt_cents" db:"debt_cents"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// AdjustmentType classifies a debt ledger entry.
type AdjustmentType string

const (
	AdjustmentOrderCharge   AdjustmentType = "order_charge"
	AdjustmentOrderReversal AdjustmentType = "order_reversal"
	AdjustmentPaymentCredit AdjustmentType = "payment_credit"
	AdjustmentManual        AdjustmentType = "manual_adjustment"
)

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentOrderCharge, AdjustmentOrderReversal, AdjustmentPaymentCredit, AdjustmentManual:
		return true
	}
	return false
}

// DebtAdjustment is one append-only record of a client balance change. It
// carries both the pre- and post-change balance so every movement is
// explainable and replayable; the newest record's NewDebtCents is the
// authoritative balance.
type DebtAdjustment struct {
	ID                int64          `json:"id" db:"id"`
	ClientID          int64          `json:"client_id" db:"client_id"`
	PreviousDebtCents int64          `json:"previous_debt_cents" db:"previous_debt_cents"`
	NewDebtCents      int64          `json:"new_debt_cents" db:"new_debt_cents"`
	AdjustmentCents   int64          `json:"adjustment_cents" db:"adjustment_cents"`
	Type              AdjustmentType `json:"type" db:"type"`
	Notes             *string        `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}
