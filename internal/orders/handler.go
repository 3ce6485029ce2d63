package orders

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-billing/meridian-billing/internal/money"
	"github.com/meridian-billing/meridian-billing/internal/platform/httpx"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// Handler exposes order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the orders HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes attaches order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.GetDetail)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/confirm", h.Confirm)
	r.Post("/{id}/fulfill", h.Fulfill)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/items", h.AddItem)
	r.Put("/{id}/items/{itemID}", h.UpdateItem)
	r.Delete("/{id}/items/{itemID}", h.RemoveItem)
}

type itemRequest struct {
	ProductID       *int64 `json:"product_id,omitempty"`
	Name            string `json:"name,omitempty" validate:"omitempty,max=200"`
	Qty             int    `json:"qty" validate:"required,gt=0"`
	UnitPriceCents  *int64 `json:"unit_price_cents,omitempty"`
	DiscountPercent int    `json:"discount_percent" validate:"gte=0,lte=100"`
}

type createOrderRequest struct {
	ClientID        int64         `json:"client_id" validate:"required,gt=0"`
	Items           []itemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountPercent int           `json:"discount_percent" validate:"gte=0,lte=100"`
	TaxPercent      int           `json:"tax_percent" validate:"gte=0,lte=100"`
	Notes           *string       `json:"notes,omitempty"`
	IssueDate       *time.Time    `json:"issue_date,omitempty"`
	DueDate         *time.Time    `json:"due_date,omitempty"`
}

type updateItemRequest struct {
	Qty             int `json:"qty" validate:"required,gt=0"`
	DiscountPercent int `json:"discount_percent" validate:"gte=0,lte=100"`
}

type updateOrderRequest struct {
	Notes           *string    `json:"notes,omitempty"`
	DiscountPercent *int       `json:"discount_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	TaxPercent      *int       `json:"tax_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	DueDate         *time.Time `json:"due_date,omitempty"`
}

func toItemInput(req itemRequest) ItemInput {
	in := ItemInput{
		ProductID:       req.ProductID,
		Name:            req.Name,
		Qty:             req.Qty,
		DiscountPercent: req.DiscountPercent,
	}
	if req.UnitPriceCents != nil {
		price := money.Cents(*req.UnitPriceCents)
		in.UnitPriceCents = &price
	}
	return in
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	var status *Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := Status(raw)
		status = &s
	}
	var clientID *int64
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid client_id filter")
			return
		}
		clientID = &id
	}

	data, total, err := h.service.List(r.Context(), r.URL.Query().Get("search"), status, clientID, limit, offset)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Paginated[Order]{Data: data, Total: total})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInput{
		ClientID:        req.ClientID,
		DiscountPercent: req.DiscountPercent,
		TaxPercent:      req.TaxPercent,
		Notes:           req.Notes,
		IssueDate:       req.IssueDate,
		DueDate:         req.DueDate,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, toItemInput(item))
	}

	detail, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create order", slog.Any("error", err), slog.Int64("client_id", req.ClientID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) GetDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	detail, err := h.service.GetDetail(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Confirm)
}

func (h *Handler) Fulfill(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Fulfill)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (*Order, error)) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, err := fn(r.Context(), id)
	if err != nil {
		h.logger.Error("order transition", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	detail, err := h.service.AddItem(r.Context(), id, toItemInput(req))
	if err != nil {
		h.logger.Error("add order item", slog.Any("error", err), slog.Int64("order_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req updateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	detail, err := h.service.Update(r.Context(), id, UpdateInput{
		Notes:           req.Notes,
		DiscountPercent: req.DiscountPercent,
		TaxPercent:      req.TaxPercent,
		DueDate:         req.DueDate,
	})
	if err != nil {
		h.logger.Error("update order", slog.Any("error", err), slog.Int64("order_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	var req updateItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	detail, err := h.service.UpdateItem(r.Context(), id, itemID, req.Qty, req.DiscountPercent)
	if err != nil {
		h.logger.Error("update order item", slog.Any("error", err), slog.Int64("order_id", id), slog.Int64("item_id", itemID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}

	detail, err := h.service.RemoveItem(r.Context(), id, itemID)
	if err != nil {
		h.logger.Error("remove order item", slog.Any("error", err), slog.Int64("order_id", id), slog.Int64("item_id", itemID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}
