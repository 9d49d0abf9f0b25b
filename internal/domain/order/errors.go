package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors shared across the order services and repositories.
var (
	// ErrNotFound is returned when the requested order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrStateChanged is returned by repositories when a guarded write finds
	// the order in a different state than expected: either a concurrent
	// transition won the race, or the caller's view was stale.
	ErrStateChanged = errors.New("order state changed")

	// ErrConflict is returned when a concurrent writer held the order row
	// past the bounded lock wait. The operation may be retried.
	ErrConflict = errors.New("concurrent order modification, retry")

	// ErrStorageTimeout is returned when a transactional write exceeded its
	// deadline. The operation may be retried.
	ErrStorageTimeout = errors.New("storage operation timed out, retry")
)

// ValidationError reports a request field that failed validation. It is
// surfaced to the caller with field-level detail and is never retryable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError indicates a lifecycle transition was attempted
// from a state that does not permit it.
type InvalidTransitionError struct {
	OrderID    int64
	From       Status
	Transition string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot %s from %q state", e.OrderID, e.Transition, e.From)
}
