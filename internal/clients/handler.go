package clients

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-billing/meridian-billing/internal/platform/httpx"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// Handler exposes client endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the clients HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes attaches client routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/debt-adjustments", h.ListAllAdjustments)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/debt-adjustments", h.AdjustDebt)
	r.Get("/{id}/debt-adjustments", h.ListAdjustments)
}

type upsertClientRequest struct {
	Name    string  `json:"name" validate:"required,max=200"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=500"`
}

type adjustDebtRequest struct {
	DeltaCents int64   `json:"delta_cents" validate:"required"`
	Type       string  `json:"type" validate:"required"`
	Notes      *string `json:"notes,omitempty"`
}

type adjustDebtResponse struct {
	Client     *Client         `json:"client"`
	Adjustment *DebtAdjustment `json:"adjustment"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	data, total, err := h.service.List(r.Context(), r.URL.Query().Get("search"), limit, offset)
	if err != nil {
		h.logger.Error("list clients", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Paginated[Client]{Data: data, Total: total})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req upsertClientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	client, err := h.service.Create(r.Context(), Client{Name: req.Name, Phone: req.Phone, Address: req.Address})
	if err != nil {
		h.logger.Error("create client", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, client)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid client id")
		return
	}
	client, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, client)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid client id")
		return
	}
	var req upsertClientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	client, err := h.service.Update(r.Context(), Client{ID: id, Name: req.Name, Phone: req.Phone, Address: req.Address})
	if err != nil {
		h.logger.Error("update client", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, client)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid client id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Error("delete client", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AdjustDebt(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid client id")
		return
	}
	var req adjustDebtRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	client, adjustment, err := h.service.AdjustDebt(r.Context(), id, req.DeltaCents, AdjustmentType(req.Type), req.Notes)
	if err != nil {
		h.logger.Error("adjust debt", slog.Any("error", err), slog.Int64("client_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adjustDebtResponse{Client: client, Adjustment: adjustment})
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid client id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	data, total, err := h.service.ListAdjustments(r.Context(), &id, limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Paginated[DebtAdjustment]{Data: data, Total: total})
}

// ListAllAdjustments returns the debt ledger across all clients, newest first.
func (h *Handler) ListAllAdjustments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	data, total, err := h.service.ListAdjustments(r.Context(), nil, limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Paginated[DebtAdjustment]{Data: data, Total: total})
}
