package reporting

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-billing/meridian-billing/internal/money"
)

const (
	revenueMonths  = 12
	topClientCount = 5
)

// RepositoryPort exposes the aggregation queries the dashboard needs.
type RepositoryPort interface {
	CountOrdersInMonth(ctx context.Context, ref time.Time) (int, error)
	CountInvoicesInMonth(ctx context.Context, ref time.Time) (int, error)
	PaymentsCollectedInMonth(ctx context.Context, ref time.Time) (money.Cents, error)
	CountOutstandingInvoices(ctx context.Context) (int, error)
	RevenueByMonth(ctx context.Context, ref time.Time, months int) ([]MonthRevenue, error)
	TopClients(ctx context.Context, limit int) ([]ClientRevenue, error)
}

// Service coordinates the dashboard queries with the cache layer.
type Service struct {
	repo  RepositoryPort
	cache *Cache
}

// NewService wires a repository with a cache helper.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// GetDashboard returns the dashboard for the month containing ref. The
// aggregation queries fan out concurrently; the assembled result is cached
// under a versioned key.
func (s *Service) GetDashboard(ctx context.Context, ref time.Time) (*Dashboard, error) {
	key, err := s.cache.BuildKey(ctx, "reporting", "dashboard", ref.Format("2006-01"))
	if err != nil {
		return nil, err
	}

	var dashboard Dashboard
	err = s.cache.FetchJSON(ctx, key, &dashboard, func(ctx context.Context) (any, error) {
		return s.loadDashboard(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	return &dashboard, nil
}

func (s *Service) loadDashboard(ctx context.Context, ref time.Time) (*Dashboard, error) {
	var dashboard Dashboard
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.repo.CountOrdersInMonth(ctx, ref)
		dashboard.TotalOrdersMonth = n
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountInvoicesInMonth(ctx, ref)
		dashboard.TotalInvoicesMonth = n
		return err
	})
	g.Go(func() error {
		total, err := s.repo.PaymentsCollectedInMonth(ctx, ref)
		dashboard.PaymentsCollectedMonthCents = total
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountOutstandingInvoices(ctx)
		dashboard.OutstandingInvoicesCount = n
		return err
	})
	g.Go(func() error {
		revenue, err := s.repo.RevenueByMonth(ctx, ref, revenueMonths)
		dashboard.RevenueByMonth = revenue
		return err
	})
	g.Go(func() error {
		top, err := s.repo.TopClients(ctx, topClientCount)
		dashboard.TopClients = top
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &dashboard, nil
}

// Invalidate bumps the cache version. Mutation paths call this after commit.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// Warmup pre-populates the current month's dashboard cache.
func (s *Service) Warmup(ctx context.Context) error {
	_, err := s.GetDashboard(ctx, time.Now())
	return err
}
