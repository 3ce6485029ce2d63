package invoices

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-billing/meridian-billing/internal/money"
	"github.com/meridian-billing/meridian-billing/internal/orders"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	seq        int64
	itemSeq    int64
	paymentSeq int64
	invoices   map[int64]Invoice
	items      map[int64][]InvoiceItem
	payments   map[int64][]Payment
	byOrder    map[int64]int64
	credits    map[int64]money.Cents
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices: make(map[int64]Invoice),
		items:    make(map[int64][]InvoiceItem),
		payments: make(map[int64][]Payment),
		byOrder:  make(map[int64]int64),
		credits:  make(map[int64]money.Cents),
	}
}

func (m *memoryRepo) Create(_ context.Context, invoice Invoice, items []InvoiceItem) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if invoice.OrderID != nil {
		if _, exists := m.byOrder[*invoice.OrderID]; exists {
			return nil, shared.Conflictf("order %d already has an invoice", *invoice.OrderID)
		}
	}
	m.seq++
	invoice.ID = m.seq
	invoice.InvoiceNumber = fmt.Sprintf("INV-%d-%04d", invoice.IssueDate.Year(), invoice.ID)
	invoice.CreatedAt = time.Now()
	for i := range items {
		m.itemSeq++
		items[i].ID = m.itemSeq
		items[i].InvoiceID = invoice.ID
	}
	m.invoices[invoice.ID] = invoice
	m.items[invoice.ID] = items
	if invoice.OrderID != nil {
		m.byOrder[*invoice.OrderID] = invoice.ID
	}
	return m.detailLocked(invoice.ID)
}

func (m *memoryRepo) detailLocked(id int64) (*Detail, error) {
	invoice, ok := m.invoices[id]
	if !ok {
		return nil, shared.NotFoundf("invoice %d not found", id)
	}
	var paid money.Cents
	for _, p := range m.payments[id] {
		paid += p.AmountCents
	}
	return &Detail{
		Invoice:      invoice,
		Items:        append([]InvoiceItem(nil), m.items[id]...),
		Payments:     append([]Payment(nil), m.payments[id]...),
		PaidCents:    paid,
		BalanceCents: invoice.TotalCents - paid,
	}, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoice, ok := m.invoices[id]
	if !ok {
		return nil, shared.NotFoundf("invoice %d not found", id)
	}
	return &invoice, nil
}

func (m *memoryRepo) GetDetail(_ context.Context, id int64) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailLocked(id)
}

func (m *memoryRepo) List(_ context.Context, _ string, status *Status, limit, offset int) ([]Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Invoice
	for _, inv := range m.invoices {
		if status != nil && inv.Status != *status {
			continue
		}
		all = append(all, inv)
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memoryRepo) Issue(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoice, ok := m.invoices[id]
	if !ok {
		return nil, shared.NotFoundf("invoice %d not found", id)
	}
	if invoice.Status != StatusDraft {
		return nil, shared.InvalidStatef("invoice %s is %s, only drafts can be issued", invoice.InvoiceNumber, invoice.Status)
	}
	if len(m.items[id]) == 0 {
		return nil, shared.InvalidStatef("invoice %s has no items", invoice.InvoiceNumber)
	}
	if invoice.TotalCents < 0 {
		return nil, shared.InvalidStatef("invoice %s has a negative total", invoice.InvoiceNumber)
	}
	invoice.Status = StatusIssued
	if invoice.TotalCents == 0 {
		invoice.Status = statusForBalance(0)
	}
	m.invoices[id] = invoice
	return &invoice, nil
}

func (m *memoryRepo) Void(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoice, ok := m.invoices[id]
	if !ok {
		return nil, shared.NotFoundf("invoice %d not found", id)
	}
	if invoice.Status.Terminal() {
		return nil, shared.InvalidStatef("invoice %s is %s", invoice.InvoiceNumber, invoice.Status)
	}
	if len(m.payments[id]) > 0 {
		return nil, shared.Conflictf("invoice %s has payments", invoice.InvoiceNumber)
	}
	invoice.Status = StatusVoid
	m.invoices[id] = invoice
	return &invoice, nil
}

func (m *memoryRepo) RecordPayment(_ context.Context, invoiceID int64, payment Payment, creditOverpay bool) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoice, ok := m.invoices[invoiceID]
	if !ok {
		return nil, shared.NotFoundf("invoice %d not found", invoiceID)
	}
	if !invoice.Status.Payable() {
		return nil, shared.InvalidStatef("invoice %s is %s and cannot accept payments", invoice.InvoiceNumber, invoice.Status)
	}
	var paidBefore money.Cents
	for _, p := range m.payments[invoiceID] {
		paidBefore += p.AmountCents
	}
	m.paymentSeq++
	payment.ID = m.paymentSeq
	payment.InvoiceID = invoiceID
	payment.CreatedAt = time.Now()
	m.payments[invoiceID] = append(m.payments[invoiceID], payment)

	balance := invoice.TotalCents - paidBefore - payment.AmountCents
	invoice.Status = statusForBalance(balance)
	m.invoices[invoiceID] = invoice

	if creditOverpay {
		outstanding := invoice.TotalCents - paidBefore
		if outstanding < 0 {
			outstanding = 0
		}
		if overpay := payment.AmountCents - outstanding; overpay > 0 {
			m.credits[invoice.ClientID] += overpay
		}
	}
	return m.detailLocked(invoiceID)
}

func (m *memoryRepo) ListPayments(_ context.Context, invoiceID *int64, limit, offset int) ([]Payment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Payment
	for id, payments := range m.payments {
		if invoiceID != nil && id != *invoiceID {
			continue
		}
		all = append(all, payments...)
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memoryRepo) ListOverdue(_ context.Context, now time.Time) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var overdue []Invoice
	for _, inv := range m.invoices {
		if inv.Status.Payable() && inv.DueDate != nil && inv.DueDate.Before(now) {
			overdue = append(overdue, inv)
		}
	}
	return overdue, nil
}

type stubOrders struct {
	details map[int64]orders.Detail
}

func (s *stubOrders) GetDetail(_ context.Context, id int64) (*orders.Detail, error) {
	detail, ok := s.details[id]
	if !ok {
		return nil, shared.NotFoundf("order %d not found", id)
	}
	return &detail, nil
}

func confirmedOrder(id int64) orders.Detail {
	return orders.Detail{
		Order: orders.Order{
			ID:              id,
			OrderNumber:     fmt.Sprintf("ORD-2026-%04d", id),
			ClientID:        1,
			Status:          orders.StatusConfirmed,
			DiscountPercent: 10,
			TaxPercent:      5,
			SubtotalCents:   2500,
			DiscountCents:   250,
			TaxCents:        113,
			TotalCents:      2363,
			Currency:        "USD",
		},
		Items: []orders.OrderItem{
			{ID: 1, OrderID: id, NameSnapshot: "Widget", Qty: 2, UnitPriceCents: 1000, Currency: "USD", TotalCents: 2000},
			{ID: 2, OrderID: id, NameSnapshot: "Gadget", Qty: 1, UnitPriceCents: 500, Currency: "USD", TotalCents: 500},
		},
	}
}

func newFixture(cfg Config) (*Service, *memoryRepo, *stubOrders) {
	repo := newMemoryRepo()
	src := &stubOrders{details: map[int64]orders.Detail{7: confirmedOrder(7)}}
	return NewService(repo, src, cfg), repo, src
}

func standaloneInput(total money.Cents) StandaloneInput {
	return StandaloneInput{
		ClientID: 1,
		Items:    []StandaloneItem{{Name: "Service", Qty: 1, UnitPriceCents: total}},
	}
}

func TestGenerateFromOrderCopiesSnapshots(t *testing.T) {
	svc, _, _ := newFixture(Config{})

	detail, err := svc.GenerateFromOrder(context.Background(), 7, Overrides{})
	require.NoError(t, err)

	require.Equal(t, StatusDraft, detail.Invoice.Status)
	require.EqualValues(t, 2363, detail.Invoice.TotalCents)
	require.EqualValues(t, 2500, detail.Invoice.SubtotalCents)
	require.Len(t, detail.Items, 2)
	require.Equal(t, "Widget", detail.Items[0].NameSnapshot)
	require.EqualValues(t, 2000, detail.Items[0].TotalCents)
	require.NotNil(t, detail.Invoice.OrderID)
	require.EqualValues(t, 7, *detail.Invoice.OrderID)
}

func TestGenerateFromOrderPercentOverrides(t *testing.T) {
	svc, _, src := newFixture(Config{})
	src.details[8] = confirmedOrder(8)

	zero := 0
	detail, err := svc.GenerateFromOrder(context.Background(), 7, Overrides{
		DiscountPercent: &zero,
		TaxPercent:      &zero,
	})
	require.NoError(t, err)

	// Subtotal and item snapshots stay as priced on the order; only the
	// order-level derivation reruns.
	require.EqualValues(t, 2500, detail.Invoice.SubtotalCents)
	require.EqualValues(t, 2500, detail.Invoice.TotalCents)
	require.Equal(t, 0, detail.Invoice.DiscountPercent)
	require.Equal(t, 0, detail.Invoice.TaxPercent)
	require.EqualValues(t, 2000, detail.Items[0].TotalCents)

	bad := 120
	_, err = svc.GenerateFromOrder(context.Background(), 8, Overrides{DiscountPercent: &bad})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGenerateFromOrderTwiceConflicts(t *testing.T) {
	svc, _, _ := newFixture(Config{})
	ctx := context.Background()

	_, err := svc.GenerateFromOrder(ctx, 7, Overrides{})
	require.NoError(t, err)

	_, err = svc.GenerateFromOrder(ctx, 7, Overrides{})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestGenerateFromOrderStateGuards(t *testing.T) {
	svc, _, src := newFixture(Config{})
	ctx := context.Background()

	draft := confirmedOrder(8)
	draft.Order.Status = orders.StatusDraft
	src.details[8] = draft

	cancelled := confirmedOrder(9)
	cancelled.Order.Status = orders.StatusCancelled
	src.details[9] = cancelled

	_, err := svc.GenerateFromOrder(ctx, 8, Overrides{})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.GenerateFromOrder(ctx, 9, Overrides{})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCreateStandalonePricing(t *testing.T) {
	svc, _, _ := newFixture(Config{})

	detail, err := svc.CreateStandalone(context.Background(), StandaloneInput{
		ClientID:        1,
		Items:           []StandaloneItem{{Name: "Consulting", Qty: 5, UnitPriceCents: 500}},
		DiscountPercent: 10,
		TaxPercent:      5,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2500, detail.Invoice.SubtotalCents)
	require.EqualValues(t, 2363, detail.Invoice.TotalCents)
	require.Nil(t, detail.Invoice.OrderID)
}

func TestCreateStandaloneValidation(t *testing.T) {
	svc, _, _ := newFixture(Config{})
	ctx := context.Background()

	_, err := svc.CreateStandalone(ctx, StandaloneInput{ClientID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateStandalone(ctx, StandaloneInput{
		ClientID: 1,
		Items:    []StandaloneItem{{Name: "X", Qty: -1, UnitPriceCents: 100}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestIssueGuards(t *testing.T) {
	svc, _, _ := newFixture(Config{})
	ctx := context.Background()

	detail, err := svc.CreateStandalone(ctx, standaloneInput(1000))
	require.NoError(t, err)

	issued, err := svc.Issue(ctx, detail.Invoice.ID)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, issued.Status)

	_, err = svc.Issue(ctx, detail.Invoice.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestIssueZeroTotalSettlesAsPaid(t *testing.T) {
	svc, _, _ := newFixture(Config{})
	ctx := context.Background()

	detail, err := svc.CreateStandalone(ctx, standaloneInput(0))
	require.NoError(t, err)
	require.EqualValues(t, 0, detail.Invoice.TotalCents)

	issued, err := svc.Issue(ctx, detail.Invoice.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, issued.Status)

	after, err := svc.GetDetail(ctx, detail.Invoice.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, after.BalanceCents)
	require.Equal(t, StatusPaid, after.Invoice.Status)
}

func TestRecordPaymentDerivesStatus(t *testing.T) {
	svc, _, _ := newFixture(Config{})
	ctx := context.Background()

	detail, err := svc.CreateStandalone(ctx, standaloneInput(1000))
	require.NoError(t, err)
	id := detail.Invoice.ID
	_, err = svc.Issue(ctx, id)
	require.NoError(t, err)

	after, err := svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 400, Method: MethodCash})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, after.Invoice.Status)
	require.EqualValues(t, 600, after.BalanceCents)

	after, err = svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 600, Method: MethodTransfer})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, after.Invoice.Status)
	require.EqualValues(t, 0, after.BalanceCents)
	require.Len(t, after.Payments, 2)
	for _, p := range after.Payments {
		require.NotNil(t, p.Reference)
		require.NotEmpty(t, *p.Reference)
	}
}

func TestRecordPaymentStateGuards(t *testing.T) {
	svc, _, _ := newFixture(Config{})
	ctx := context.Background()

	detail, err := svc.CreateStandalone(ctx, standaloneInput(1000))
	require.NoError(t, err)
	id := detail.Invoice.ID

	// Drafts cannot take payments.
	_, err = svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 100, Method: MethodCash})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 0, Method: MethodCash})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 100, Method: PaymentMethod("CHECK")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Void(ctx, id)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 100, Method: MethodCash})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestOverpaymentWithoutPolicy(t *testing.T) {
	svc, repo, _ := newFixture(Config{})
	ctx := context.Background()

	detail, err := svc.CreateStandalone(ctx, standaloneInput(1000))
	require.NoError(t, err)
	id := detail.Invoice.ID
	_, err = svc.Issue(ctx, id)
	require.NoError(t, err)

	after, err := svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 1300, Method: MethodCard})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, after.Invoice.Status)
	require.EqualValues(t, -300, after.BalanceCents)
	require.EqualValues(t, 0, repo.credits[1])
}

func TestOverpaymentCreditsClient(t *testing.T) {
	svc, repo, _ := newFixture(Config{OverpaymentCreditsClient: true})
	ctx := context.Background()

	detail, err := svc.CreateStandalone(ctx, standaloneInput(1000))
	require.NoError(t, err)
	id := detail.Invoice.ID
	_, err = svc.Issue(ctx, id)
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 400, Method: MethodCash})
	require.NoError(t, err)
	// Only the portion beyond the outstanding balance is credited.
	_, err = svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 900, Method: MethodCash})
	require.NoError(t, err)
	require.EqualValues(t, 300, repo.credits[1])
}

func TestVoidGuards(t *testing.T) {
	svc, _, _ := newFixture(Config{})
	ctx := context.Background()

	detail, err := svc.CreateStandalone(ctx, standaloneInput(1000))
	require.NoError(t, err)
	id := detail.Invoice.ID
	_, err = svc.Issue(ctx, id)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, id, PaymentInput{AmountCents: 100, Method: MethodCash})
	require.NoError(t, err)

	_, err = svc.Void(ctx, id)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestListOverdue(t *testing.T) {
	svc, _, _ := newFixture(Config{})
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-48 * time.Hour)
	input := standaloneInput(1000)
	input.DueDate = &past
	detail, err := svc.CreateStandalone(ctx, input)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, detail.Invoice.ID)
	require.NoError(t, err)

	future := now.Add(48 * time.Hour)
	input2 := standaloneInput(500)
	input2.DueDate = &future
	detail2, err := svc.CreateStandalone(ctx, input2)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, detail2.Invoice.ID)
	require.NoError(t, err)

	overdue, err := svc.ListOverdue(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, detail.Invoice.ID, overdue[0].ID)
}
