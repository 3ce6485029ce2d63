package invoices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-billing/meridian-billing/internal/money"
	"github.com/meridian-billing/meridian-billing/internal/orders"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// RepositoryPort defines data access for invoices. Payment and status
// operations are atomic per invoice under a row lock.
type RepositoryPort interface {
	// Create persists the invoice with its snapshot items. A duplicate
	// order_id surfaces as ErrConflict.
	Create(ctx context.Context, invoice Invoice, items []InvoiceItem) (*Detail, error)
	Get(ctx context.Context, id int64) (*Invoice, error)
	GetDetail(ctx context.Context, id int64) (*Detail, error)
	List(ctx context.Context, search string, status *Status, limit, offset int) ([]Invoice, int, error)

	// Issue moves a draft invoice to ISSUED after checking it has at least
	// one item and a non-negative total.
	Issue(ctx context.Context, id int64) (*Invoice, error)
	// Void freezes the invoice; it fails with ErrConflict while any payment
	// exists and with ErrInvalidState on terminal invoices.
	Void(ctx context.Context, id int64) (*Invoice, error)
	// RecordPayment appends the payment, recomputes the balance and runs the
	// status guard. When creditOverpay is set, the overpaid portion is
	// credited to the client's debt ledger in the same transaction.
	RecordPayment(ctx context.Context, invoiceID int64, payment Payment, creditOverpay bool) (*Detail, error)

	// ListPayments returns payments across invoices, newest first.
	ListPayments(ctx context.Context, invoiceID *int64, limit, offset int) ([]Payment, int, error)
	// ListOverdue returns payable invoices whose due date passed before the
	// given moment.
	ListOverdue(ctx context.Context, now time.Time) ([]Invoice, error)
}

// OrderSource is the slice of the orders module used for generation.
type OrderSource interface {
	GetDetail(ctx context.Context, id int64) (*orders.Detail, error)
}

// Config carries invoice policy knobs.
type Config struct {
	// OverpaymentCreditsClient credits any overpaid portion of a payment to
	// the client's debt ledger.
	OverpaymentCreditsClient bool
}

// Service implements invoice operations.
type Service struct {
	repo   RepositoryPort
	orders OrderSource
	cfg    Config
}

// NewService constructs an invoice service.
func NewService(repo RepositoryPort, orderSource OrderSource, cfg Config) *Service {
	return &Service{repo: repo, orders: orderSource, cfg: cfg}
}

// Overrides optionally replace generated invoice fields.
type Overrides struct {
	IssueDate       *time.Time
	DueDate         *time.Time
	Notes           *string
	DiscountPercent *int
	TaxPercent      *int
}

// GenerateFromOrder builds an invoice from a confirmed or fulfilled order.
// Item snapshots are copied verbatim; totals are fixed at generation time.
func (s *Service) GenerateFromOrder(ctx context.Context, orderID int64, overrides Overrides) (*Detail, error) {
	if orderID <= 0 {
		return nil, shared.Validationf("invalid order id")
	}
	detail, err := s.orders.GetDetail(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch detail.Order.Status {
	case orders.StatusDraft:
		return nil, shared.InvalidStatef("order %s is still a draft", detail.Order.OrderNumber)
	case orders.StatusCancelled:
		return nil, shared.InvalidStatef("order %s is cancelled", detail.Order.OrderNumber)
	}

	issueDate := time.Now()
	if overrides.IssueDate != nil {
		issueDate = *overrides.IssueDate
	}
	dueDate := detail.Order.DueDate
	if overrides.DueDate != nil {
		dueDate = overrides.DueDate
	}
	notes := detail.Order.Notes
	if overrides.Notes != nil {
		notes = overrides.Notes
	}

	discountPercent := detail.Order.DiscountPercent
	taxPercent := detail.Order.TaxPercent
	total := detail.Order.TotalCents
	if overrides.DiscountPercent != nil || overrides.TaxPercent != nil {
		if overrides.DiscountPercent != nil {
			discountPercent = *overrides.DiscountPercent
		}
		if overrides.TaxPercent != nil {
			taxPercent = *overrides.TaxPercent
		}
		if !money.ValidPercent(discountPercent) {
			return nil, shared.Validationf("discount percent must be between 0 and 100")
		}
		if !money.ValidPercent(taxPercent) {
			return nil, shared.Validationf("tax percent must be between 0 and 100")
		}
		// Item snapshots stay verbatim; only the order-level derivation
		// reruns with the overridden percentages.
		subtotal := detail.Order.SubtotalCents
		discount := money.RoundHalfUpPercent(subtotal, discountPercent)
		tax := money.RoundHalfUpPercent(subtotal-discount, taxPercent)
		total = subtotal - discount + tax
	}

	invoice := Invoice{
		OrderID:         &detail.Order.ID,
		ClientID:        detail.Order.ClientID,
		Status:          StatusDraft,
		IssueDate:       issueDate,
		DueDate:         dueDate,
		Notes:           notes,
		SubtotalCents:   detail.Order.SubtotalCents,
		DiscountPercent: discountPercent,
		TaxPercent:      taxPercent,
		TotalCents:      total,
		Currency:        detail.Order.Currency,
	}

	items := make([]InvoiceItem, 0, len(detail.Items))
	for _, line := range detail.Items {
		items = append(items, InvoiceItem{
			ProductID:      line.ProductID,
			NameSnapshot:   line.NameSnapshot,
			SKUSnapshot:    line.SKUSnapshot,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
			Currency:       line.Currency,
			TotalCents:     line.TotalCents,
		})
	}
	return s.repo.Create(ctx, invoice, items)
}

// StandaloneItem describes one line of an orderless invoice.
type StandaloneItem struct {
	ProductID      *int64
	Name           string
	SKU            *string
	Qty            int
	UnitPriceCents money.Cents
}

// StandaloneInput carries everything needed for an orderless invoice.
type StandaloneInput struct {
	ClientID        int64
	Items           []StandaloneItem
	DiscountPercent int
	TaxPercent      int
	Notes           *string
	IssueDate       *time.Time
	DueDate         *time.Time
}

// CreateStandalone prices and persists an invoice that is not backed by an
// order.
func (s *Service) CreateStandalone(ctx context.Context, input StandaloneInput) (*Detail, error) {
	if input.ClientID <= 0 {
		return nil, shared.Validationf("invalid client id")
	}
	if len(input.Items) == 0 {
		return nil, shared.Validationf("invoice requires at least one item")
	}
	if !money.ValidPercent(input.DiscountPercent) {
		return nil, shared.Validationf("discount percent must be between 0 and 100")
	}
	if !money.ValidPercent(input.TaxPercent) {
		return nil, shared.Validationf("tax percent must be between 0 and 100")
	}

	items := make([]InvoiceItem, 0, len(input.Items))
	var subtotal money.Cents
	for i, in := range input.Items {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, shared.Validationf("item %d: name required", i+1)
		}
		if in.Qty <= 0 {
			return nil, shared.Validationf("item %d: qty must be positive", i+1)
		}
		if in.UnitPriceCents < 0 {
			return nil, shared.Validationf("item %d: unit price must not be negative", i+1)
		}
		total := money.Cents(in.Qty) * in.UnitPriceCents
		subtotal += total
		items = append(items, InvoiceItem{
			ProductID:      in.ProductID,
			NameSnapshot:   name,
			SKUSnapshot:    in.SKU,
			Qty:            in.Qty,
			UnitPriceCents: in.UnitPriceCents,
			Currency:       money.DefaultCurrency,
			TotalCents:     total,
		})
	}

	discount := money.RoundHalfUpPercent(subtotal, input.DiscountPercent)
	tax := money.RoundHalfUpPercent(subtotal-discount, input.TaxPercent)

	issueDate := time.Now()
	if input.IssueDate != nil {
		issueDate = *input.IssueDate
	}
	invoice := Invoice{
		ClientID:        input.ClientID,
		Status:          StatusDraft,
		IssueDate:       issueDate,
		DueDate:         input.DueDate,
		Notes:           input.Notes,
		SubtotalCents:   subtotal,
		DiscountPercent: input.DiscountPercent,
		TaxPercent:      input.TaxPercent,
		TotalCents:      subtotal - discount + tax,
		Currency:        money.DefaultCurrency,
	}
	return s.repo.Create(ctx, invoice, items)
}

func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid invoice id")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetDetail(ctx context.Context, id int64) (*Detail, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid invoice id")
	}
	return s.repo.GetDetail(ctx, id)
}

func (s *Service) List(ctx context.Context, search string, status *Status, limit, offset int) ([]Invoice, int, error) {
	if status != nil && !status.Valid() {
		return nil, 0, shared.Validationf("unknown status %q", *status)
	}
	limit, offset = shared.ClampPage(limit, offset)
	return s.repo.List(ctx, search, status, limit, offset)
}

// Issue finalizes a draft invoice.
func (s *Service) Issue(ctx context.Context, id int64) (*Invoice, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid invoice id")
	}
	return s.repo.Issue(ctx, id)
}

// Void freezes an invoice that has no payments.
func (s *Service) Void(ctx context.Context, id int64) (*Invoice, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid invoice id")
	}
	return s.repo.Void(ctx, id)
}

// PaymentInput describes one payment to record.
type PaymentInput struct {
	AmountCents money.Cents
	Method      PaymentMethod
	Reference   *string
	PaidAt      *time.Time
	Notes       *string
}

// RecordPayment appends an immutable payment and derives the new status.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, input PaymentInput) (*Detail, error) {
	if invoiceID <= 0 {
		return nil, shared.Validationf("invalid invoice id")
	}
	if input.AmountCents <= 0 {
		return nil, shared.Validationf("payment amount must be positive")
	}
	if !input.Method.Valid() {
		return nil, shared.Validationf("unknown payment method %q", input.Method)
	}
	paidAt := time.Now()
	if input.PaidAt != nil {
		paidAt = *input.PaidAt
	}
	reference := input.Reference
	if reference == nil || strings.TrimSpace(*reference) == "" {
		// Every payment keeps a traceable receipt reference.
		generated := uuid.NewString()
		reference = &generated
	}
	payment := Payment{
		AmountCents: input.AmountCents,
		Method:      input.Method,
		Reference:   reference,
		PaidAt:      paidAt,
		Notes:       input.Notes,
	}
	detail, err := s.repo.RecordPayment(ctx, invoiceID, payment, s.cfg.OverpaymentCreditsClient)
	if err != nil {
		return nil, fmt.Errorf("record payment on invoice %d: %w", invoiceID, err)
	}
	return detail, nil
}

// ListOverdue returns payable invoices whose due date passed before now.
// The overdue sweep job uses this to surface stale receivables.
func (s *Service) ListOverdue(ctx context.Context, now time.Time) ([]Invoice, error) {
	return s.repo.ListOverdue(ctx, now)
}

func (s *Service) ListPayments(ctx context.Context, invoiceID *int64, limit, offset int) ([]Payment, int, error) {
	if invoiceID != nil && *invoiceID <= 0 {
		return nil, 0, shared.Validationf("invalid invoice id")
	}
	limit, offset = shared.ClampPage(limit, offset)
	return s.repo.ListPayments(ctx, invoiceID, limit, offset)
}
