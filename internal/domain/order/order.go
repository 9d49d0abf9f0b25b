package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order, derived from which of the
// three state timestamps are set. It is never stored directly.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInProcess Status = "in process"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
)

// TimestampField names one of the three state timestamps on an order.
type TimestampField string

const (
	FieldStartedAt   TimestampField = "startedAt"
	FieldSentAt      TimestampField = "sentAt"
	FieldDeliveredAt TimestampField = "deliveredAt"
)

// Order is the order header together with its line items.
type Order struct {
	ID            int64
	UserID        int64
	RestaurantID  int64
	Address       string
	Price         decimal.Decimal
	ShippingCosts decimal.Decimal
	CreatedAt     time.Time
	StartedAt     *time.Time
	SentAt        *time.Time
	DeliveredAt   *time.Time
	Lines         []Line
}

// Line is a single line item: a product reference, the ordered quantity,
// and the unit price captured when the order was placed. The snapshot is
// deliberately decoupled from the product's current price.
type Line struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Status derives the lifecycle state from the timestamps. Timestamps are
// set monotonically (started, then sent, then delivered), so checking from
// the latest one backwards is sufficient.
func (o *Order) Status() Status {
	switch {
	case o.DeliveredAt != nil:
		return StatusDelivered
	case o.SentAt != nil:
		return StatusSent
	case o.StartedAt != nil:
		return StatusInProcess
	default:
		return StatusPending
	}
}

// ListFilter narrows a restaurant-scoped order listing. CreatedBefore is an
// exclusive upper bound; use EndOfDay to turn an inclusive date into one.
type ListFilter struct {
	Status        Status
	CreatedFrom   time.Time
	CreatedBefore time.Time
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the exclusive upper bound that makes day an inclusive
// "to" date: the start of the following day.
func EndOfDay(day time.Time) time.Time {
	return StartOfDay(day).AddDate(0, 0, 1)
}

// Analytics holds the per-restaurant dashboard aggregates.
type Analytics struct {
	RestaurantID            int64
	NumYesterdayOrders      int64
	NumPendingOrders        int64
	NumDeliveredTodayOrders int64
	InvoicedToday           decimal.Decimal
}

// Repository defines the transactional persistence operations for orders.
// Multi-row writes (Create, Replace) are atomic: either the header and every
// line are written, or nothing is. Timestamp updates are compare-and-set
// guarded on the expected prior state; a guard failure is reported as
// ErrStateChanged so a lost race never overwrites a concurrent transition.
type Repository interface {
	Get(ctx context.Context, id int64) (*Order, error)
	ListByCustomer(ctx context.Context, userID int64) ([]Order, error)
	ListByRestaurant(ctx context.Context, restaurantID int64, f ListFilter) ([]Order, error)

	// Create persists the header and all lines in one transaction and fills
	// in the generated ID and CreatedAt.
	Create(ctx context.Context, o *Order) error

	// Replace updates the header and swaps the entire line set in one
	// transaction. It fails with ErrStateChanged when the order is no longer
	// pending by the time the row lock is acquired.
	Replace(ctx context.Context, o *Order) error

	// Delete removes a pending order and, by cascade, its lines. It fails
	// with ErrStateChanged when the order has already been started.
	Delete(ctx context.Context, id int64) error

	// UpdateTimestamp sets (value non-nil) or clears (value nil) a single
	// state timestamp, guarded on the order still being in the expected
	// state, and returns the updated order.
	UpdateTimestamp(ctx context.Context, id int64, field TimestampField, value *time.Time, expected Status) (*Order, error)

	Analytics(ctx context.Context, restaurantID int64, todayStart, yesterdayStart time.Time) (*Analytics, error)
}
