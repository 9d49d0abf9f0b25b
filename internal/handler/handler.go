// Package handler exposes the order core over HTTP: JSON request/response
// mapping, API-key authentication, ownership checks, and error translation.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/deliverus/orderd/internal/domain/order"
	"github.com/deliverus/orderd/internal/domain/restaurant"
	"github.com/deliverus/orderd/internal/domain/user"
)

// OrderService is the assembler surface the handler depends on.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	Update(ctx context.Context, req order.UpdateRequest) (*order.Order, error)
	Destroy(ctx context.Context, orderID int64) error
	Get(ctx context.Context, orderID int64) (*order.Order, error)
	ListByCustomer(ctx context.Context, userID int64) ([]order.Order, error)
	ListByRestaurant(ctx context.Context, restaurantID int64, f order.ListFilter) ([]order.Order, error)
	Analytics(ctx context.Context, restaurantID int64, now time.Time) (*order.Analytics, error)
}

// OrderLifecycle is the state-machine surface the handler depends on.
type OrderLifecycle interface {
	Confirm(ctx context.Context, orderID int64) (*order.Order, error)
	Send(ctx context.Context, orderID int64) (*order.Order, error)
	Deliver(ctx context.Context, orderID int64) (*order.Order, error)
	Backward(ctx context.Context, orderID int64) (*order.Order, error)
}

// Handler serves the order API. Authorization follows the ownership rules:
// customers operate on their own orders, owners on their own restaurants.
type Handler struct {
	orders      OrderService
	lifecycle   OrderLifecycle
	restaurants restaurant.Repository
	users       user.Repository
	pepper      []byte
}

// NewHandler constructs a Handler with the required dependencies. pepper is
// the HMAC secret API keys are hashed with before lookup.
func NewHandler(
	orders OrderService,
	lifecycle OrderLifecycle,
	restaurants restaurant.Repository,
	users user.Repository,
	pepper []byte,
) *Handler {
	return &Handler{
		orders:      orders,
		lifecycle:   lifecycle,
		restaurants: restaurants,
		users:       users,
		pepper:      pepper,
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Code: status, Message: msg})
}

// mapError translates domain failures to HTTP responses. Unclassified
// errors are logged and answered with a bare 500.
func (h *Handler) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isValidationError(err):
		ve := asValidationError(err)
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Code:    http.StatusUnprocessableEntity,
			Message: ve.Message,
			Field:   ve.Field,
		})
	case isNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case isInvalidTransition(err):
		respondError(w, http.StatusConflict, err.Error())
	case isConflict(err):
		respondJSON(w, http.StatusConflict, errorResponse{
			Code:      http.StatusConflict,
			Message:   err.Error(),
			Retryable: true,
		})
	case isTimeout(err):
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{
			Code:      http.StatusServiceUnavailable,
			Message:   err.Error(),
			Retryable: true,
		})
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
