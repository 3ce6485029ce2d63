package reporting

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-billing/meridian-billing/internal/platform/httpx"
)

// Handler exposes the reporting endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the reporting HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes attaches reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.Dashboard)
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ref := time.Now()
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "month must be formatted YYYY-MM")
			return
		}
		ref = parsed
	}

	dashboard, err := h.service.GetDashboard(r.Context(), ref)
	if err != nil {
		h.logger.Error("load dashboard", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboard)
}
