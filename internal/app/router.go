package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-billing/meridian-billing/internal/clients"
	"github.com/meridian-billing/meridian-billing/internal/invoices"
	"github.com/meridian-billing/meridian-billing/internal/observability"
	"github.com/meridian-billing/meridian-billing/internal/orders"
	"github.com/meridian-billing/meridian-billing/internal/products"
	"github.com/meridian-billing/meridian-billing/internal/reporting"
	"github.com/meridian-billing/meridian-billing/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	ClientsHandler   *clients.Handler
	ProductsHandler  *products.Handler
	OrdersHandler    *orders.Handler
	InvoicesHandler  *invoices.Handler
	ReportingHandler *reporting.Handler
	ReportingService *reporting.Service
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mutations on billing resources invalidate the cached dashboard.
	r.Group(func(r chi.Router) {
		if params.ReportingService != nil {
			r.Use(reporting.InvalidateOnWrite(params.ReportingService, params.Logger))
		}
		if params.ClientsHandler != nil {
			r.Route("/clients", params.ClientsHandler.MountRoutes)
		}
		if params.ProductsHandler != nil {
			r.Route("/products", params.ProductsHandler.MountRoutes)
		}
		if params.OrdersHandler != nil {
			r.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.InvoicesHandler != nil {
			r.Route("/invoices", params.InvoicesHandler.MountRoutes)
		}
	})
	if params.ReportingHandler != nil {
		r.Route("/reporting", params.ReportingHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
