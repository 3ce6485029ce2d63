package products

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-billing/meridian-billing/internal/money"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	seq      int64
	products     map[int64]Product
	usage        map[int64]int
	invoiceLines map[int64]int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:     make(map[int64]Product),
		usage:        make(map[int64]int),
		invoiceLines: make(map[int64]int),
	}
}

func (m *memoryRepo) Create(_ context.Context, product Product) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	product.ID = m.seq
	product.CreatedAt = time.Now()
	m.products[product.ID] = product
	return &product, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok {
		return nil, shared.NotFoundf("product %d not found", id)
	}
	return &product, nil
}

func (m *memoryRepo) Update(_ context.Context, product Product) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[product.ID]; !ok {
		return nil, shared.NotFoundf("product %d not found", product.ID)
	}
	now := time.Now()
	product.UpdatedAt = &now
	m.products[product.ID] = product
	return &product, nil
}

func (m *memoryRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return shared.NotFoundf("product %d not found", id)
	}
	delete(m.products, id)
	return nil
}

func (m *memoryRepo) List(_ context.Context, search string, activeOnly bool, limit, offset int) ([]Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Product
	for _, p := range m.products {
		if activeOnly && !p.Active {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(search)) {
			continue
		}
		all = append(all, p)
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

func (m *memoryRepo) SetActive(_ context.Context, id int64, active bool) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok {
		return nil, shared.NotFoundf("product %d not found", id)
	}
	product.Active = active
	m.products[id] = product
	return &product, nil
}

func (m *memoryRepo) Usage(_ context.Context, id int64) (*UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return nil, shared.NotFoundf("product %d not found", id)
	}
	return &UsageStats{ProductID: id, OrderCount: m.usage[id], InvoiceLineCount: m.invoiceLines[id]}, nil
}

func TestCreateDefaultsActive(t *testing.T) {
	svc := NewService(newMemoryRepo())

	product, err := svc.Create(context.Background(), Product{Name: "Widget", UnitPriceCents: 1500})
	require.NoError(t, err)
	require.True(t, product.Active)
	require.Equal(t, money.DefaultCurrency, product.Currency)
}

func TestCreateRejectsNegativePrice(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), Product{Name: "Widget", UnitPriceCents: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdatePreservesActiveFlag(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	product, err := svc.Create(ctx, Product{Name: "Widget", UnitPriceCents: 1500})
	require.NoError(t, err)

	_, err = svc.Deactivate(ctx, product.ID)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, Product{ID: product.ID, Name: "Widget v2", UnitPriceCents: 1800, Active: true})
	require.NoError(t, err)
	require.False(t, updated.Active)
	require.EqualValues(t, 1800, updated.UnitPriceCents)
}

func TestDeleteBlockedByUsage(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	product, err := svc.Create(ctx, Product{Name: "Widget", UnitPriceCents: 1500})
	require.NoError(t, err)
	repo.usage[product.ID] = 3

	err = svc.Delete(ctx, product.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	repo.usage[product.ID] = 0
	require.NoError(t, svc.Delete(ctx, product.ID))
}

func TestDeleteBlockedByInvoiceLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	product, err := svc.Create(ctx, Product{Name: "Widget", UnitPriceCents: 1500})
	require.NoError(t, err)

	// A standalone invoice line references the product without any order.
	repo.invoiceLines[product.ID] = 1

	err = svc.Delete(ctx, product.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	repo.invoiceLines[product.ID] = 0
	require.NoError(t, svc.Delete(ctx, product.ID))
}

func TestActivateDeactivate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	product, err := svc.Create(ctx, Product{Name: "Widget", UnitPriceCents: 1500})
	require.NoError(t, err)

	deactivated, err := svc.Deactivate(ctx, product.ID)
	require.NoError(t, err)
	require.False(t, deactivated.Active)

	activated, err := svc.Activate(ctx, product.ID)
	require.NoError(t, err)
	require.True(t, activated.Active)
}

func TestListActiveOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	a, err := svc.Create(ctx, Product{Name: "Widget", UnitPriceCents: 100})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Product{Name: "Gadget", UnitPriceCents: 200})
	require.NoError(t, err)

	_, err = svc.Deactivate(ctx, a.ID)
	require.NoError(t, err)

	data, total, err := svc.List(ctx, "", true, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "Gadget", data[0].Name)
}
