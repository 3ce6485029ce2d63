package invoices

import (
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

// Handler exposes invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the invoices HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes attaches invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.CreateStandalone)
	r.Post("/from-order/{orderID}", h.GenerateFromOrder)
	r.Get("/payments", h.ListPayments)
	r.Get("/{id}", h.GetDetail)
	r.Post("/{id}/issue", h.Issue)
	r.Post("/{id}/void", h.Void)
	r.Post("/{id}/payments", h.RecordPayment)
	r.Get("/{id}/payments", h.ListInvoicePayments)
}

type generateRequest struct {
	IssueDate       *time.Time `json:"issue_date,omitempty"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	DiscountPercent *int       `json:"discount_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	TaxPercent      *int       `json:"tax_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
}

type standaloneItemRequest struct {
	ProductID      *int64  `json:"product_id,omitempty"`
	Name           string  `json:"name" validate:"required,max=200"`
	SKU            *string `json:"sku,omitempty" validate:"omitempty,max=64"`
	Qty            int     `json:"qty" validate:"required,gt=0"`
	UnitPriceCents int64   `json:"unit_price_cents" validate:"gte=0"`
}

type standaloneRequest struct {
	ClientID        int64                   `json:"client_id" validate:"required,gt=0"`
	Items           []standaloneItemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountPercent int                     `json:"discount_percent" validate:"gte=0,lte=100"`
	TaxPercent      int                     `json:"tax_percent" validate:"gte=0,lte=100"`
	Notes           *string                 `json:"notes,omitempty"`
	IssueDate       *time.Time              `json:"issue_date,omitempty"`
	DueDate         *time.Time              `json:"due_date,omitempty"`
}

type paymentRequest struct {
	AmountCents int64      `json:"amount_cents" validate:"required,gt=0"`
	Method      string     `json:"method" validate:"required"`
	Reference   *string    `json:"reference,omitempty" validate:"omitempty,max=100"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	var status *Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := Status(raw)
		status = &s
	}

	data, total, err := h.service.List(r.Context(), r.URL.Query().Get("search"), status, limit, offset)
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Paginated[Invoice]{Data: data, Total: total})
}

func (h *Handler) GenerateFromOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req generateRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}

	detail, err := h.service.GenerateFromOrder(r.Context(), orderID, Overrides{
		IssueDate:       req.IssueDate,
		DueDate:         req.DueDate,
		Notes:           req.Notes,
		DiscountPercent: req.DiscountPercent,
		TaxPercent:      req.TaxPercent,
	})
	if err != nil {
		h.logger.Error("generate invoice", slog.Any("error", err), slog.Int64("order_id", orderID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) CreateStandalone(w http.ResponseWriter, r *http.Request) {
	var req standaloneRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := StandaloneInput{
		ClientID:        req.ClientID,
		DiscountPercent: req.DiscountPercent,
		TaxPercent:      req.TaxPercent,
		Notes:           req.Notes,
		IssueDate:       req.IssueDate,
		DueDate:         req.DueDate,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, StandaloneItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			SKU:            item.SKU,
			Qty:            item.Qty,
			UnitPriceCents: money.Cents(item.UnitPriceCents),
		})
	}

	detail, err := h.service.CreateStandalone(r.Context(), input)
	if err != nil {
		h.logger.Error("create invoice", slog.Any("error", err), slog.Int64("client_id", req.ClientID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) GetDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	detail, err := h.service.GetDetail(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	invoice, err := h.service.Issue(r.Context(), id)
	if err != nil {
		h.logger.Error("issue invoice", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	invoice, err := h.service.Void(r.Context(), id)
	if err != nil {
		h.logger.Error("void invoice", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	detail, err := h.service.RecordPayment(r.Context(), id, PaymentInput{
		AmountCents: money.Cents(req.AmountCents),
		Method:      PaymentMethod(req.Method),
		Reference:   req.Reference,
		PaidAt:      req.PaidAt,
		Notes:       req.Notes,
	})
	if err != nil {
		h.logger.Error("record payment", slog.Any("error", err), slog.Int64("invoice_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	data, total, err := h.service.ListPayments(r.Context(), nil, limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Paginated[Payment]{Data: data, Total: total})
}

func (h *Handler) ListInvoicePayments(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	data, total, err := h.service.ListPayments(r.Context(), &id, limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Paginated[Payment]{Data: data, Total: total})
}
