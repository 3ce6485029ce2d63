package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-billing/meridian-billing/internal/clients"
	"github.com/meridian-billing/meridian-billing/internal/money"
	"github.com/meridian-billing/meridian-billing/internal/products"
	"github.com/meridian-billing/meridian-billing/internal/shared"
)

// RepositoryPort defines data access for orders. Write operations that touch
// the order status, its items or the client debt ledger are atomic per order.
type RepositoryPort interface {
	// Create persists the order with its snapshot items, captures the
	// client's debt balance into the snapshot column and charges the order
	// total to the debt ledger, all in one transaction.
	Create(ctx context.Context, order Order, items []OrderItem) (*Detail, error)
	Get(ctx context.Context, id int64) (*Order, error)
	GetDetail(ctx context.Context, id int64) (*Detail, error)
	List(ctx context.Context, search string, status *Status, clientID *int64, limit, offset int) ([]Order, int, error)

	// Transition moves the status forward under a row lock, rejecting moves
	// the status machine forbids.
	Transition(ctx context.Context, id int64, next Status) (*Order, error)
	// Cancel transitions to CANCELLED and reverses the debt charge. It fails
	// with ErrConflict when an invoice exists for the order.
	Cancel(ctx context.Context, id int64) (*Order, error)

	// Item mutations recompute order totals and adjust the client debt by
	// the total delta in the same transaction.
	AddItem(ctx context.Context, orderID int64, item OrderItem) (*Detail, error)
	UpdateItem(ctx context.Context, orderID, itemID int64, qty, discountPercent int) (*Detail, error)
	RemoveItem(ctx context.Context, orderID, itemID int64) (*Detail, error)

	// Update rewrites header fields; a changed percent reprices the order
	// and settles the total delta against the client debt.
	Update(ctx context.Context, id int64, input UpdateInput) (*Detail, error)
}

// ClientDirectory is the slice of the clients module the order service needs.
type ClientDirectory interface {
	Get(ctx context.Context, id int64) (*clients.Client, error)
}

// ProductCatalog resolves products for line snapshots.
type ProductCatalog interface {
	Get(ctx context.Context, id int64) (*products.Product, error)
}

// Service implements order operations.
type Service struct {
	repo      RepositoryPort
	clientDir ClientDirectory
	catalog   ProductCatalog
}

// NewService constructs an order service.
func NewService(repo RepositoryPort, clientDir ClientDirectory, catalog ProductCatalog) *Service {
	return &Service{repo: repo, clientDir: clientDir, catalog: catalog}
}

// ItemInput describes one requested line. When ProductID is set the name,
// SKU and unit price are snapshotted from the catalog; otherwise Name and
// UnitPriceCents describe a free-form line.
type ItemInput struct {
	ProductID       *int64
	Name            string
	Qty             int
	UnitPriceCents  *money.Cents
	DiscountPercent int
}

// CreateInput carries everything needed to open a draft order.
type CreateInput struct {
	ClientID        int64
	Items           []ItemInput
	DiscountPercent int
	TaxPercent      int
	Notes           *string
	IssueDate       *time.Time
	DueDate         *time.Time
}

// UpdateInput carries header edits. Nil fields are left untouched.
type UpdateInput struct {
	Notes           *string
	DiscountPercent *int
	TaxPercent      *int
	DueDate         *time.Time
}

// Create opens a draft order. The client's current debt balance is captured
// on the order and the order total is charged to the debt ledger.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Detail, error) {
	if input.ClientID <= 0 {
		return nil, shared.Validationf("invalid client id")
	}
	if len(input.Items) == 0 {
		return nil, shared.Validationf("order requires at least one item")
	}
	if !money.ValidPercent(input.DiscountPercent) {
		return nil, shared.Validationf("discount percent must be between 0 and 100")
	}
	if !money.ValidPercent(input.TaxPercent) {
		return nil, shared.Validationf("tax percent must be between 0 and 100")
	}
	if _, err := s.clientDir.Get(ctx, input.ClientID); err != nil {
		return nil, err
	}

	items := make([]OrderItem, 0, len(input.Items))
	for i, in := range input.Items {
		item, err := s.resolveItem(ctx, in, nil)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		items = append(items, item)
	}

	issueDate := time.Now()
	if input.IssueDate != nil {
		issueDate = *input.IssueDate
	}
	totals := ComputeTotals(items, input.DiscountPercent, input.TaxPercent)

	order := Order{
		ClientID:        input.ClientID,
		Status:          StatusDraft,
		Notes:           input.Notes,
		DiscountPercent: input.DiscountPercent,
		TaxPercent:      input.TaxPercent,
		IssueDate:       issueDate,
		DueDate:         input.DueDate,
		SubtotalCents:   totals.SubtotalCents,
		DiscountCents:   totals.DiscountCents,
		TaxCents:        totals.TaxCents,
		TotalCents:      totals.TotalCents,
		Currency:        money.DefaultCurrency,
	}
	return s.repo.Create(ctx, order, items)
}

// resolveItem validates an item input and builds the snapshot line. existing
// lists the order's current items when mutating an existing order, so a
// deactivated product already on the order can still be re-quantified.
func (s *Service) resolveItem(ctx context.Context, in ItemInput, existing []OrderItem) (OrderItem, error) {
	if in.Qty <= 0 {
		return OrderItem{}, shared.Validationf("qty must be positive")
	}
	if !money.ValidPercent(in.DiscountPercent) {
		return OrderItem{}, shared.Validationf("discount percent must be between 0 and 100")
	}

	item := OrderItem{
		Qty:             in.Qty,
		DiscountPercent: in.DiscountPercent,
		Currency:        money.DefaultCurrency,
	}

	if in.ProductID != nil {
		product, err := s.catalog.Get(ctx, *in.ProductID)
		if err != nil {
			return OrderItem{}, err
		}
		if !product.Active && !referencesProduct(existing, product.ID) {
			return OrderItem{}, shared.Validationf("product %d is inactive", product.ID)
		}
		item.ProductID = &product.ID
		item.NameSnapshot = product.Name
		item.SKUSnapshot = product.SKU
		item.UnitPriceCents = product.UnitPriceCents
		if product.Currency != "" {
			item.Currency = product.Currency
		}
		if in.UnitPriceCents != nil {
			item.UnitPriceCents = *in.UnitPriceCents
		}
	} else {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return OrderItem{}, shared.Validationf("free-form item requires a name")
		}
		if in.UnitPriceCents == nil {
			return OrderItem{}, shared.Validationf("free-form item requires a unit price")
		}
		item.NameSnapshot = name
		item.UnitPriceCents = *in.UnitPriceCents
	}
	if item.UnitPriceCents < 0 {
		return OrderItem{}, shared.Validationf("unit price must not be negative")
	}
	return priceItem(item), nil
}

func referencesProduct(items []OrderItem, productID int64) bool {
	for _, item := range items {
		if item.ProductID != nil && *item.ProductID == productID {
			return true
		}
	}
	return false
}

func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid order id")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetDetail(ctx context.Context, id int64) (*Detail, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid order id")
	}
	return s.repo.GetDetail(ctx, id)
}

func (s *Service) List(ctx context.Context, search string, status *Status, clientID *int64, limit, offset int) ([]Order, int, error) {
	if status != nil && !status.Valid() {
		return nil, 0, shared.Validationf("unknown status %q", *status)
	}
	if clientID != nil && *clientID <= 0 {
		return nil, 0, shared.Validationf("invalid client id")
	}
	limit, offset = shared.ClampPage(limit, offset)
	return s.repo.List(ctx, search, status, clientID, limit, offset)
}

// AddItem snapshots the product at call time and appends the line.
func (s *Service) AddItem(ctx context.Context, orderID int64, in ItemInput) (*Detail, error) {
	if orderID <= 0 {
		return nil, shared.Validationf("invalid order id")
	}
	detail, err := s.repo.GetDetail(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if detail.Order.Status.Terminal() {
		return nil, shared.InvalidStatef("order %s is %s", detail.Order.OrderNumber, detail.Order.Status)
	}
	item, err := s.resolveItem(ctx, in, detail.Items)
	if err != nil {
		return nil, err
	}
	return s.repo.AddItem(ctx, orderID, item)
}

// UpdateItem changes qty and line discount; the snapshot price is immutable.
func (s *Service) UpdateItem(ctx context.Context, orderID, itemID int64, qty, discountPercent int) (*Detail, error) {
	if orderID <= 0 || itemID <= 0 {
		return nil, shared.Validationf("invalid order or item id")
	}
	if qty <= 0 {
		return nil, shared.Validationf("qty must be positive")
	}
	if !money.ValidPercent(discountPercent) {
		return nil, shared.Validationf("discount percent must be between 0 and 100")
	}
	return s.repo.UpdateItem(ctx, orderID, itemID, qty, discountPercent)
}

// Update edits the order header. Percent changes flow through the same
// repricing path as item mutations.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (*Detail, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid order id")
	}
	if input.DiscountPercent != nil && !money.ValidPercent(*input.DiscountPercent) {
		return nil, shared.Validationf("discount percent must be between 0 and 100")
	}
	if input.TaxPercent != nil && !money.ValidPercent(*input.TaxPercent) {
		return nil, shared.Validationf("tax percent must be between 0 and 100")
	}
	return s.repo.Update(ctx, id, input)
}

func (s *Service) RemoveItem(ctx context.Context, orderID, itemID int64) (*Detail, error) {
	if orderID <= 0 || itemID <= 0 {
		return nil, shared.Validationf("invalid order or item id")
	}
	return s.repo.RemoveItem(ctx, orderID, itemID)
}

// Confirm moves a draft order forward.
func (s *Service) Confirm(ctx context.Context, id int64) (*Order, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid order id")
	}
	return s.repo.Transition(ctx, id, StatusConfirmed)
}

// Fulfill completes a confirmed order.
func (s *Service) Fulfill(ctx context.Context, id int64) (*Order, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid order id")
	}
	return s.repo.Transition(ctx, id, StatusFulfilled)
}

// Cancel voids the order and reverses its debt charge. Orders that already
// have an invoice must have the invoice voided first.
func (s *Service) Cancel(ctx context.Context, id int64) (*Order, error) {
	if id <= 0 {
		return nil, shared.Validationf("invalid order id")
	}
	return s.repo.Cancel(ctx, id)
}
