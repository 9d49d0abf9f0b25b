package handler

import (
	"github.com/go-faster/errors"

	"github.com/deliverus/orderd/internal/domain/order"
	"github.com/deliverus/orderd/internal/domain/product"
	"github.com/deliverus/orderd/internal/domain/restaurant"
)

func isValidationError(err error) bool {
	var ve *order.ValidationError
	return errors.As(err, &ve)
}

func asValidationError(err error) *order.ValidationError {
	var ve *order.ValidationError
	_ = errors.As(err, &ve)
	return ve
}

func isNotFound(err error) bool {
	return errors.Is(err, order.ErrNotFound) ||
		errors.Is(err, product.ErrNotFound) ||
		errors.Is(err, restaurant.ErrNotFound)
}

func isInvalidTransition(err error) bool {
	var ite *order.InvalidTransitionError
	return errors.As(err, &ite)
}

func isConflict(err error) bool {
	return errors.Is(err, order.ErrConflict)
}

func isTimeout(err error) bool {
	return errors.Is(err, order.ErrStorageTimeout)
}
