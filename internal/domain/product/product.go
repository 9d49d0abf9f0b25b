package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a menu item offered by a single restaurant. The order core
// reads products but never mutates them.
type Product struct {
	ID           int64
	RestaurantID int64
	Name         string
	Price        decimal.Decimal
	Availability bool
}

// Repository defines read operations over the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	// GetByIDs fetches the given products in one query. Missing IDs are
	// simply absent from the result; callers detect them by lookup.
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
}
