package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/deliverus/orderd/internal/domain/product"
	"github.com/deliverus/orderd/internal/domain/restaurant"
)

// MaxAddressLength bounds the delivery address field.
const MaxAddressLength = 255

// LineRequest is a requested line item before pricing: the product and the
// quantity, without a unit price.
type LineRequest struct {
	ProductID int64
	Quantity  int
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	UserID       int64
	RestaurantID int64
	Address      string
	Lines        []LineRequest
}

// UpdateRequest holds the input for editing a pending order. The restaurant
// cannot be changed: lines must reference products of the order's original
// restaurant.
type UpdateRequest struct {
	OrderID int64
	Address string
	Lines   []LineRequest
}

// Service assembles orders: it validates product membership and
// availability, prices the lines, and persists atomically through the
// repository.
type Service struct {
	orders      Repository
	products    product.Repository
	restaurants restaurant.Repository
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	products product.Repository,
	restaurants restaurant.Repository,
) *Service {
	return &Service{
		orders:      orders,
		products:    products,
		restaurants: restaurants,
	}
}

// Create validates the request, captures unit-price snapshots, computes the
// price, and persists the order header and all lines in one transaction.
// On any failure nothing is persisted.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	address, err := validateAddress(req.Address)
	if err != nil {
		return nil, err
	}

	rest, err := s.restaurants.GetByID(ctx, req.RestaurantID)
	if err != nil {
		if errors.Is(err, restaurant.ErrNotFound) {
			return nil, validationf("restaurantId", "restaurant %d does not exist", req.RestaurantID)
		}
		return nil, errors.Wrap(err, "get restaurant")
	}

	lines, err := s.resolveLines(ctx, req.Lines, rest.ID)
	if err != nil {
		return nil, err
	}

	quote := ComputePrice(lines, rest.ShippingCosts)

	o := &Order{
		UserID:        req.UserID,
		RestaurantID:  rest.ID,
		Address:       address,
		Price:         quote.Total,
		ShippingCosts: quote.Shipping,
		Lines:         lines,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Update edits a pending order: it reprices the new line set and atomically
// replaces the header fields and the entire line set. Editing an order that
// has already been started is rejected.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*Order, error) {
	existing, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if st := existing.Status(); st != StatusPending {
		return nil, validationf("orderId", "order is %q, only pending orders can be edited", st)
	}

	address, err := validateAddress(req.Address)
	if err != nil {
		return nil, err
	}

	// Lines must stay within the order's original restaurant.
	lines, err := s.resolveLines(ctx, req.Lines, existing.RestaurantID)
	if err != nil {
		return nil, err
	}

	rest, err := s.restaurants.GetByID(ctx, existing.RestaurantID)
	if err != nil {
		return nil, errors.Wrap(err, "get restaurant")
	}
	quote := ComputePrice(lines, rest.ShippingCosts)

	updated := &Order{
		ID:            existing.ID,
		UserID:        existing.UserID,
		RestaurantID:  existing.RestaurantID,
		Address:       address,
		Price:         quote.Total,
		ShippingCosts: quote.Shipping,
		CreatedAt:     existing.CreatedAt,
		Lines:         lines,
	}
	if err := s.orders.Replace(ctx, updated); err != nil {
		if errors.Is(err, ErrStateChanged) {
			// A transition won the race after our pending check.
			return nil, ErrConflict
		}
		return nil, errors.Wrap(err, "replace order")
	}
	return updated, nil
}

// Destroy removes a pending order and its lines. Orders that have entered
// the kitchen keep their history and cannot be deleted.
func (s *Service) Destroy(ctx context.Context, orderID int64) error {
	existing, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if st := existing.Status(); st != StatusPending {
		return validationf("orderId", "order is %q, only pending orders can be deleted", st)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		if errors.Is(err, ErrStateChanged) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// Get returns one order with its lines.
func (s *Service) Get(ctx context.Context, orderID int64) (*Order, error) {
	return s.orders.Get(ctx, orderID)
}

// ListByCustomer returns a customer's orders, newest first.
func (s *Service) ListByCustomer(ctx context.Context, userID int64) ([]Order, error) {
	return s.orders.ListByCustomer(ctx, userID)
}

// ListByRestaurant returns a restaurant's orders with optional status and
// creation-date filters applied.
func (s *Service) ListByRestaurant(ctx context.Context, restaurantID int64, f ListFilter) ([]Order, error) {
	if _, err := s.restaurants.GetByID(ctx, restaurantID); err != nil {
		return nil, err
	}
	return s.orders.ListByRestaurant(ctx, restaurantID, f)
}

// Analytics computes the dashboard aggregates for a restaurant relative to
// now: orders created yesterday, currently pending orders, orders delivered
// today, and the total price of orders created today.
func (s *Service) Analytics(ctx context.Context, restaurantID int64, now time.Time) (*Analytics, error) {
	if _, err := s.restaurants.GetByID(ctx, restaurantID); err != nil {
		return nil, err
	}
	todayStart := StartOfDay(now)
	return s.orders.Analytics(ctx, restaurantID, todayStart, todayStart.AddDate(0, 0, -1))
}

// resolveLines validates the requested lines and resolves each product,
// capturing its current price as the line's unit-price snapshot. Every
// product must exist, be available, and belong to restaurantID.
func (s *Service) resolveLines(ctx context.Context, reqs []LineRequest, restaurantID int64) ([]Line, error) {
	if len(reqs) == 0 {
		return nil, validationf("products", "at least one product is required")
	}

	ids := make([]int64, len(reqs))
	seen := make(map[int64]struct{}, len(reqs))
	for i, lr := range reqs {
		if lr.Quantity < 1 {
			return nil, validationf("products", "quantity must be at least 1 for product %d", lr.ProductID)
		}
		if _, dup := seen[lr.ProductID]; dup {
			return nil, validationf("products", "product %d appears more than once", lr.ProductID)
		}
		seen[lr.ProductID] = struct{}{}
		ids[i] = lr.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	lines := make([]Line, len(reqs))
	for i, lr := range reqs {
		p, ok := byID[lr.ProductID]
		if !ok {
			return nil, validationf("products", "product %d does not exist", lr.ProductID)
		}
		if !p.Availability {
			return nil, validationf("products", "product %d is not available", lr.ProductID)
		}
		if p.RestaurantID != restaurantID {
			return nil, validationf("products", "product %d does not belong to restaurant %d", lr.ProductID, restaurantID)
		}
		lines[i] = Line{
			ProductID: p.ID,
			Quantity:  lr.Quantity,
			UnitPrice: p.Price,
		}
	}
	return lines, nil
}

func validateAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", validationf("address", "address is required")
	}
	if len(address) > MaxAddressLength {
		return "", validationf("address", "address exceeds %d characters", MaxAddressLength)
	}
	return address, nil
}
