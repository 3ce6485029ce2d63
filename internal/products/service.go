package products

import (
	"context"
	"strings"

	"github.com/meridian-billing/meridian-billing/internal/money"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// RepositoryPort defines data access methods for the product catalog.
type RepositoryPort interface {
	Create(ctx context.Context, product Product) (*Product, error)
	Get(ctx context.Context, id int64) (*Product, error)
	Update(ctx context.Context, product Product) (*Product, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]Product, int, error)
	SetActive(ctx context.Context, id int64, active bool) (*Product, error)
	Usage(ctx context.Context, id int64) (*UsageStats, error)
}

// Service implements product catalog operations.
type Service struct {
	repo RepositoryPort
}

// NewService constructs a product service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, product Product) (*Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return nil, shared.Validationf("product name required")
	}
	if product.UnitPriceCents < 0 {
		return nil, shared.Validationf("unit price must not be negative")
	}
	if product.Currency == "" {
		product.Currency = money.DefaultCurrency
	}
	product.Active = true
	return s.repo.Create(ctx, product)
}

func (s *Service) Get(ctx context.Context, id int64) (*Product, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid product id")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, product Product) (*Product, error) {
	if product.ID <= 0 {
		return nil, shared.Validationf("product id required")
	}
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return nil, shared.Validationf("product name required")
	}
	if product.UnitPriceCents < 0 {
		return nil, shared.Validationf("unit price must not be negative")
	}
	existing, err := s.repo.Get(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	product.Active = existing.Active
	if product.Currency == "" {
		product.Currency = existing.Currency
	}
	return s.repo.Update(ctx, product)
}

// Delete removes a product that has never been ordered. Products referenced
// by any order keep their snapshot rows meaningful and must be deactivated
// instead.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.Validationf("invalid product id")
	}
	usage, err := s.repo.Usage(ctx, id)
	if err != nil {
		return err
	}
	if usage.OrderCount > 0 {
		return shared.Conflictf("product %d appears on %d orders; deactivate it instead", id, usage.OrderCount)
	}
	if usage.InvoiceLineCount > 0 {
		return shared.Conflictf("product %d appears on %d invoice lines; deactivate it instead", id, usage.InvoiceLineCount)
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]Product, int, error) {
	limit, offset = shared.ClampPage(limit, offset)
	return s.repo.List(ctx, search, activeOnly, limit, offset)
}

func (s *Service) Activate(ctx context.Context, id int64) (*Product, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid product id")
	}
	return s.repo.SetActive(ctx, id, true)
}

func (s *Service) Deactivate(ctx context.Context, id int64) (*Product, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid product id")
	}
	return s.repo.SetActive(ctx, id, false)
}

func (s *Service) Usage(ctx context.Context, id int64) (*UsageStats, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid product id")
	}
	return s.repo.Usage(ctx, id)
}
