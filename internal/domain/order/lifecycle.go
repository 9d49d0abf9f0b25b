package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Lifecycle drives the order state machine:
//
//	pending -> in process -> sent -> delivered
//
// Each forward transition stamps the next timestamp; Backward clears the
// most recently set one, moving exactly one state back. Every transition is
// a compare-and-set on the current state executed inside the repository's
// transaction, so two concurrent calls can never both stamp the same field:
// the loser fails with an InvalidTransitionError.
type Lifecycle struct {
	orders Repository
	now    func() time.Time
}

// NewLifecycle creates a Lifecycle over the given repository.
func NewLifecycle(orders Repository) *Lifecycle {
	return &Lifecycle{
		orders: orders,
		now:    time.Now,
	}
}

// Confirm moves a pending order into preparation by stamping startedAt.
func (l *Lifecycle) Confirm(ctx context.Context, orderID int64) (*Order, error) {
	return l.forward(ctx, orderID, "confirm", StatusPending, FieldStartedAt)
}

// Send marks an in-process order as on its way by stamping sentAt.
func (l *Lifecycle) Send(ctx context.Context, orderID int64) (*Order, error) {
	return l.forward(ctx, orderID, "send", StatusInProcess, FieldSentAt)
}

// Deliver completes a sent order by stamping deliveredAt. The repository
// enqueues the restaurant's service-time recomputation in the same
// transaction, so the metrics job survives even if this process dies right
// after the commit.
func (l *Lifecycle) Deliver(ctx context.Context, orderID int64) (*Order, error) {
	return l.forward(ctx, orderID, "deliver", StatusSent, FieldDeliveredAt)
}

// Backward reverts the most recent transition, clearing a single timestamp.
// It is an operator correction and is allowed from any state but pending.
func (l *Lifecycle) Backward(ctx context.Context, orderID int64) (*Order, error) {
	o, err := l.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var field TimestampField
	from := o.Status()
	switch from {
	case StatusDelivered:
		field = FieldDeliveredAt
	case StatusSent:
		field = FieldSentAt
	case StatusInProcess:
		field = FieldStartedAt
	default:
		return nil, &InvalidTransitionError{OrderID: orderID, From: from, Transition: "backward"}
	}

	updated, err := l.orders.UpdateTimestamp(ctx, orderID, field, nil, from)
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			return nil, &InvalidTransitionError{OrderID: orderID, From: from, Transition: "backward"}
		}
		return nil, errors.Wrap(err, "clear timestamp")
	}
	return updated, nil
}

func (l *Lifecycle) forward(ctx context.Context, orderID int64, name string, expected Status, field TimestampField) (*Order, error) {
	o, err := l.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if from := o.Status(); from != expected {
		return nil, &InvalidTransitionError{OrderID: orderID, From: from, Transition: name}
	}

	now := l.now()
	updated, err := l.orders.UpdateTimestamp(ctx, orderID, field, &now, expected)
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			// Lost the race against a concurrent transition.
			return nil, &InvalidTransitionError{OrderID: orderID, From: expected, Transition: name}
		}
		return nil, errors.Wrap(err, "set timestamp")
	}
	return updated, nil
}
