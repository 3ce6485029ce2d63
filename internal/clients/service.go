package clients

import (
	"context"
	"strings"

	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// RepositoryPort defines data access methods for clients and their debt ledger.
type RepositoryPort interface {
	Create(ctx context.Context, client Client) (*Client, error)
	Get(ctx context.Context, id int64) (*Client, error)
	Update(ctx context.Context, client Client) (*Client, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, search string, limit, offset int) ([]Client, int, error)

	// AdjustDebt executes read-balance, append-adjustment, update-cache as
	// one atomic unit serialized per client.
	AdjustDebt(ctx context.Context, clientID, deltaCents int64, typ AdjustmentType, notes *string) (*Client, *DebtAdjustment, error)
	ListAdjustments(ctx context.Context, clientID *int64, limit, offset int) ([]DebtAdjustment, int, error)

	HasOpenOrders(ctx context.Context, clientID int64) (bool, error)
}

// Service handles client business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create registers a new client with a zero debt balance.
func (s *Service) Create(ctx context.Context, client Client) (*Client, error) {
	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" {
		return nil, shared.Validationf("client name required")
	}
	client.DebtCents = 0
	return s.repo.Create(ctx, client)
}

// Get returns a client by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Client, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid client id")
	}
	return s.repo.Get(ctx, id)
}

// Update modifies a client's identity fields. The debt balance is owned by
// the ledger and is never written here.
func (s *Service) Update(ctx context.Context, client Client) (*Client, error) {
	if client.ID <= 0 {
		return nil, shared.Validationf("client id required")
	}
	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" {
		return nil, shared.Validationf("client name required")
	}
	existing, err := s.repo.Get(ctx, client.ID)
	if err != nil {
		return nil, err
	}
	client.DebtCents = existing.DebtCents
	return s.repo.Update(ctx, client)
}

// Delete removes a client. Clients with orders that are not cancelled are
// protected; their history must stay resolvable.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.Validationf("invalid client id")
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	open, err := s.repo.HasOpenOrders(ctx, id)
	if err != nil {
		return err
	}
	if open {
		return shared.Conflictf("client %d has orders that are not cancelled", id)
	}
	return s.repo.Delete(ctx, id)
}

// List returns a page of clients matching the search term plus the total count.
func (s *Service) List(ctx context.Context, search string, limit, offset int) ([]Client, int, error) {
	limit, offset = shared.ClampPage(limit, offset)
	return s.repo.List(ctx, search, limit, offset)
}

// AdjustDebt appends a debt ledger record and moves the cached balance to the
// ledger head. Negative balances are valid: they represent client credit.
func (s *Service) AdjustDebt(ctx context.Context, clientID, deltaCents int64, typ AdjustmentType, notes *string) (*Client, *DebtAdjustment, error) {
	if clientID <= 0 {
		return nil, nil, shared.Validationf("invalid client id")
	}
	if !typ.Valid() {
		return nil, nil, shared.Validationf("unknown adjustment type %q", typ)
	}
	if deltaCents == 0 {
		return nil, nil, shared.Validationf("adjustment delta must be non-zero")
	}
	return s.repo.AdjustDebt(ctx, clientID, deltaCents, typ, notes)
}

// ListAdjustments returns debt ledger records, optionally scoped to a client,
// newest first.
func (s *Service) ListAdjustments(ctx context.Context, clientID *int64, limit, offset int) ([]DebtAdjustment, int, error) {
	if clientID != nil && *clientID <= 0 {
		return nil, 0, shared.Validationf("invalid client id")
	}
	limit, offset = shared.ClampPage(limit, offset)
	return s.repo.ListAdjustments(ctx, clientID, limit, offset)
}
