package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-billing/meridian-billing/internal/clients"
	"github.com/meridian-billing/meridian-billing/internal/money"
	"github.com/meridian-billing/meridian-billing/internal/products"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

type ledgerEntry struct {
	clientID int64
	delta    money.Cents
	typ      clients.AdjustmentType
}

type memoryRepo struct {
	mu         sync.Mutex
	seq        int64
	itemSeq    int64
	orders     map[int64]Order
	items      map[int64][]OrderItem
	debt       map[int64]money.Cents
	invoiced   map[int64]bool
	ledger     []ledgerEntry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:   make(map[int64]Order),
		items:    make(map[int64][]OrderItem),
		debt:     make(map[int64]money.Cents),
		invoiced: make(map[int64]bool),
	}
}

func (m *memoryRepo) adjust(clientID int64, delta money.Cents, typ clients.AdjustmentType) {
	m.debt[clientID] += delta
	m.ledger = append(m.ledger, ledgerEntry{clientID: clientID, delta: delta, typ: typ})
}

func (m *memoryRepo) Create(_ context.Context, order Order, items []OrderItem) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.debt[order.ClientID]; !ok {
		return nil, shared.NotFoundf("client %d not found", order.ClientID)
	}
	snapshot := m.debt[order.ClientID]
	order.ClientDebtSnapshotCents = &snapshot

	m.seq++
	order.ID = m.seq
	order.OrderNumber = fmt.Sprintf("ORD-%d-%04d", order.IssueDate.Year(), order.ID)
	order.CreatedAt = time.Now()

	for i := range items {
		m.itemSeq++
		items[i].ID = m.itemSeq
		items[i].OrderID = order.ID
	}
	m.orders[order.ID] = order
	m.items[order.ID] = items

	if order.TotalCents != 0 {
		m.adjust(order.ClientID, order.TotalCents, clients.AdjustmentOrderCharge)
	}
	return m.detailLocked(order.ID)
}

func (m *memoryRepo) detailLocked(id int64) (*Detail, error) {
	order, ok := m.orders[id]
	if !ok {
		return nil, shared.NotFoundf("order %d not found", id)
	}
	items := append([]OrderItem(nil), m.items[id]...)
	return &Detail{
		Order:  order,
		Items:  items,
		Totals: ComputeTotals(items, order.DiscountPercent, order.TaxPercent),
	}, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, shared.NotFoundf("order %d not found", id)
	}
	return &order, nil
}

func (m *memoryRepo) GetDetail(_ context.Context, id int64) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailLocked(id)
}

func (m *memoryRepo) List(_ context.Context, _ string, status *Status, clientID *int64, limit, offset int) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Order
	for _, o := range m.orders {
		if status != nil && o.Status != *status {
			continue
		}
		if clientID != nil && o.ClientID != *clientID {
			continue
		}
		all = append(all, o)
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

func (m *memoryRepo) Transition(_ context.Context, id int64, next Status) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, shared.NotFoundf("order %d not found", id)
	}
	if !order.Status.CanTransition(next) {
		return nil, shared.InvalidStatef("order %s cannot move from %s to %s", order.OrderNumber, order.Status, next)
	}
	order.Status = next
	m.orders[id] = order
	return &order, nil
}

func (m *memoryRepo) Cancel(_ context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, shared.NotFoundf("order %d not found", id)
	}
	if !order.Status.CanTransition(StatusCancelled) {
		return nil, shared.InvalidStatef("order %s cannot be cancelled from %s", order.OrderNumber, order.Status)
	}
	if m.invoiced[id] {
		return nil, shared.Conflictf("order %s has an invoice", order.OrderNumber)
	}
	if order.TotalCents != 0 {
		m.adjust(order.ClientID, -order.TotalCents, clients.AdjustmentOrderReversal)
	}
	order.Status = StatusCancelled
	m.orders[id] = order
	return &order, nil
}

func (m *memoryRepo) repriceLocked(id int64) (*Detail, error) {
	order := m.orders[id]
	items := m.items[id]
	totals := ComputeTotals(items, order.DiscountPercent, order.TaxPercent)
	delta := totals.TotalCents - order.TotalCents
	if delta > 0 {
		m.adjust(order.ClientID, delta, clients.AdjustmentOrderCharge)
	} else if delta < 0 {
		m.adjust(order.ClientID, delta, clients.AdjustmentOrderReversal)
	}
	order.SubtotalCents = totals.SubtotalCents
	order.DiscountCents = totals.DiscountCents
	order.TaxCents = totals.TaxCents
	order.TotalCents = totals.TotalCents
	m.orders[id] = order
	return m.detailLocked(id)
}

func (m *memoryRepo) AddItem(_ context.Context, orderID int64, item OrderItem) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, shared.NotFoundf("order %d not found", orderID)
	}
	if order.Status.Terminal() {
		return nil, shared.InvalidStatef("order %s is %s", order.OrderNumber, order.Status)
	}
	m.itemSeq++
	item.ID = m.itemSeq
	item.OrderID = orderID
	m.items[orderID] = append(m.items[orderID], item)
	return m.repriceLocked(orderID)
}

func (m *memoryRepo) UpdateItem(_ context.Context, orderID, itemID int64, qty, discountPercent int) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, shared.NotFoundf("order %d not found", orderID)
	}
	if order.Status.Terminal() {
		return nil, shared.InvalidStatef("order %s is %s", order.OrderNumber, order.Status)
	}
	items := m.items[orderID]
	for i := range items {
		if items[i].ID == itemID {
			items[i].Qty = qty
			items[i].DiscountPercent = discountPercent
			items[i].TotalCents = money.LineTotal(qty, items[i].UnitPriceCents, discountPercent)
			return m.repriceLocked(orderID)
		}
	}
	return nil, shared.NotFoundf("item %d not found on order %d", itemID, orderID)
}

func (m *memoryRepo) Update(_ context.Context, id int64, input UpdateInput) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, shared.NotFoundf("order %d not found", id)
	}
	if order.Status.Terminal() {
		return nil, shared.InvalidStatef("order %s is %s", order.OrderNumber, order.Status)
	}
	if input.Notes != nil {
		order.Notes = input.Notes
	}
	if input.DueDate != nil {
		order.DueDate = input.DueDate
	}
	if input.DiscountPercent != nil {
		order.DiscountPercent = *input.DiscountPercent
	}
	if input.TaxPercent != nil {
		order.TaxPercent = *input.TaxPercent
	}
	m.orders[id] = order
	return m.repriceLocked(id)
}

func (m *memoryRepo) RemoveItem(_ context.Context, orderID, itemID int64) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, shared.NotFoundf("order %d not found", orderID)
	}
	if order.Status.Terminal() {
		return nil, shared.InvalidStatef("order %s is %s", order.OrderNumber, order.Status)
	}
	items := m.items[orderID]
	for i := range items {
		if items[i].ID == itemID {
			m.items[orderID] = append(items[:i:i], items[i+1:]...)
			return m.repriceLocked(orderID)
		}
	}
	return nil, shared.NotFoundf("item %d not found on order %d", itemID, orderID)
}

type stubClients struct {
	repo *memoryRepo
}

func (s *stubClients) Get(_ context.Context, id int64) (*clients.Client, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	debt, ok := s.repo.debt[id]
	if !ok {
		return nil, shared.NotFoundf("client %d not found", id)
	}
	return &clients.Client{ID: id, Name: "Client", DebtCents: int64(debt)}, nil
}

type stubCatalog struct {
	products map[int64]products.Product
}

func (s *stubCatalog) Get(_ context.Context, id int64) (*products.Product, error) {
	product, ok := s.products[id]
	if !ok {
		return nil, shared.NotFoundf("product %d not found", id)
	}
	return &product, nil
}

func newFixture() (*Service, *memoryRepo, *stubCatalog) {
	repo := newMemoryRepo()
	repo.debt[1] = 0
	catalog := &stubCatalog{products: map[int64]products.Product{
		10: {ID: 10, Name: "Widget", UnitPriceCents: 1000, Active: true},
		11: {ID: 11, Name: "Gadget", UnitPriceCents: 500, Active: true},
		12: {ID: 12, Name: "Legacy", UnitPriceCents: 700, Active: false},
	}}
	return NewService(repo, &stubClients{repo: repo}, catalog), repo, catalog
}

func pid(id int64) *int64 { return &id }

func TestCreatePricesAndChargesDebt(t *testing.T) {
	svc, repo, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{
		ClientID: 1,
		Items: []ItemInput{
			{ProductID: pid(10), Qty: 2},
			{ProductID: pid(11), Qty: 1},
		},
		DiscountPercent: 10,
		TaxPercent:      5,
	})
	require.NoError(t, err)

	require.EqualValues(t, 2500, detail.Order.SubtotalCents)
	require.EqualValues(t, 250, detail.Order.DiscountCents)
	require.EqualValues(t, 113, detail.Order.TaxCents)
	require.EqualValues(t, 2363, detail.Order.TotalCents)
	require.Equal(t, StatusDraft, detail.Order.Status)

	// Balance captured before the charge landed.
	require.NotNil(t, detail.Order.ClientDebtSnapshotCents)
	require.EqualValues(t, 0, *detail.Order.ClientDebtSnapshotCents)
	require.EqualValues(t, 2363, repo.debt[1])

	require.Len(t, detail.Items, 2)
	require.Equal(t, "Widget", detail.Items[0].NameSnapshot)
}

func TestCreateSnapshotsPriorDebt(t *testing.T) {
	svc, repo, _ := newFixture()
	repo.debt[1] = 500

	detail, err := svc.Create(context.Background(), CreateInput{
		ClientID: 1,
		Items:    []ItemInput{{ProductID: pid(11), Qty: 1}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 500, *detail.Order.ClientDebtSnapshotCents)
	require.EqualValues(t, 1000, repo.debt[1])
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{ClientID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}, DiscountPercent: 101})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 0}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{ClientID: 99, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateRejectsInactiveProduct(t *testing.T) {
	svc, _, _ := newFixture()

	_, err := svc.Create(context.Background(), CreateInput{
		ClientID: 1,
		Items:    []ItemInput{{ProductID: pid(12), Qty: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateFreeFormItem(t *testing.T) {
	svc, _, _ := newFixture()
	price := money.Cents(2500)

	detail, err := svc.Create(context.Background(), CreateInput{
		ClientID: 1,
		Items:    []ItemInput{{Name: "Consulting", Qty: 2, UnitPriceCents: &price}},
	})
	require.NoError(t, err)
	require.Nil(t, detail.Items[0].ProductID)
	require.EqualValues(t, 5000, detail.Items[0].TotalCents)
}

func TestStatusTransitions(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}})
	require.NoError(t, err)
	id := detail.Order.ID

	// DRAFT cannot be fulfilled directly.
	_, err = svc.Fulfill(ctx, id)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	confirmed, err := svc.Confirm(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = svc.Confirm(ctx, id)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	fulfilled, err := svc.Fulfill(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, fulfilled.Status)

	_, err = svc.Cancel(ctx, id)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelReversesDebt(t *testing.T) {
	svc, repo, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 3}}})
	require.NoError(t, err)
	require.EqualValues(t, 3000, repo.debt[1])

	cancelled, err := svc.Cancel(ctx, detail.Order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.EqualValues(t, 0, repo.debt[1])

	last := repo.ledger[len(repo.ledger)-1]
	require.Equal(t, clients.AdjustmentOrderReversal, last.typ)
	require.EqualValues(t, -3000, last.delta)
}

func TestCancelBlockedByInvoice(t *testing.T) {
	svc, repo, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}})
	require.NoError(t, err)
	repo.invoiced[detail.Order.ID] = true

	_, err = svc.Cancel(ctx, detail.Order.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAddItemRepricesAndCharges(t *testing.T) {
	svc, repo, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}})
	require.NoError(t, err)
	require.EqualValues(t, 1000, repo.debt[1])

	updated, err := svc.AddItem(ctx, detail.Order.ID, ItemInput{ProductID: pid(11), Qty: 2})
	require.NoError(t, err)
	require.EqualValues(t, 2000, updated.Order.TotalCents)
	require.EqualValues(t, 2000, repo.debt[1])
}

func TestAddItemTerminalOrder(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, detail.Order.ID)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, detail.Order.ID, ItemInput{ProductID: pid(11), Qty: 1})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestAddItemInactiveProduct(t *testing.T) {
	svc, _, catalog := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}})
	require.NoError(t, err)

	// Inactive and not on the order: rejected.
	_, err = svc.AddItem(ctx, detail.Order.ID, ItemInput{ProductID: pid(12), Qty: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	// Deactivating a product already on the order does not block re-adding it.
	widget := catalog.products[10]
	widget.Active = false
	catalog.products[10] = widget

	_, err = svc.AddItem(ctx, detail.Order.ID, ItemInput{ProductID: pid(10), Qty: 1})
	require.NoError(t, err)
}

func TestUpdateItemReprices(t *testing.T) {
	svc, repo, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 2}}})
	require.NoError(t, err)
	require.EqualValues(t, 2000, repo.debt[1])

	updated, err := svc.UpdateItem(ctx, detail.Order.ID, detail.Items[0].ID, 1, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1000, updated.Order.TotalCents)
	require.EqualValues(t, 1000, repo.debt[1])

	last := repo.ledger[len(repo.ledger)-1]
	require.Equal(t, clients.AdjustmentOrderReversal, last.typ)
}

func TestUpdateHeaderReprices(t *testing.T) {
	svc, repo, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 2}}})
	require.NoError(t, err)
	require.EqualValues(t, 2000, detail.Order.TotalCents)
	require.EqualValues(t, 2000, repo.debt[1])

	discount := 10
	notes := "rush delivery"
	updated, err := svc.Update(ctx, detail.Order.ID, UpdateInput{Notes: &notes, DiscountPercent: &discount})
	require.NoError(t, err)
	require.Equal(t, &notes, updated.Order.Notes)
	require.Equal(t, 10, updated.Order.DiscountPercent)
	require.EqualValues(t, 1800, updated.Order.TotalCents)
	require.EqualValues(t, 1800, repo.debt[1])

	last := repo.ledger[len(repo.ledger)-1]
	require.Equal(t, clients.AdjustmentOrderReversal, last.typ)
}

func TestUpdateHeaderGuards(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}})
	require.NoError(t, err)

	bad := 101
	_, err = svc.Update(ctx, detail.Order.ID, UpdateInput{DiscountPercent: &bad})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Confirm(ctx, detail.Order.ID)
	require.NoError(t, err)
	_, err = svc.Fulfill(ctx, detail.Order.ID)
	require.NoError(t, err)

	notes := "too late"
	_, err = svc.Update(ctx, detail.Order.ID, UpdateInput{Notes: &notes})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRemoveItemMissing(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	detail, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}})
	require.NoError(t, err)

	_, err = svc.RemoveItem(ctx, detail.Order.ID, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(10), Qty: 1}}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{ClientID: 1, Items: []ItemInput{{ProductID: pid(11), Qty: 1}}})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, a.Order.ID)
	require.NoError(t, err)

	status := StatusConfirmed
	data, total, err := svc.List(ctx, "", &status, nil, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, a.Order.ID, data[0].ID)
}
