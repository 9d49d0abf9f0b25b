package restaurant

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested restaurant does not exist.
var ErrNotFound = errors.New("restaurant not found")

// Restaurant carries the fields the order core needs: the flat shipping
// policy and the owner for authorization checks. AverageServiceMinutes is
// a derived statistic maintained by the metrics worker.
type Restaurant struct {
	ID                    int64
	OwnerID               int64
	Name                  string
	ShippingCosts         decimal.Decimal
	AverageServiceMinutes decimal.Decimal
}

// Repository defines read operations over restaurants. The single write,
// the average-service-time update, belongs to the metrics store.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Restaurant, error)
}
