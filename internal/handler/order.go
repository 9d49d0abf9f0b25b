package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deliverus/orderd/internal/domain/order"
)

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		UserID:       caller.ID,
		RestaurantID: req.RestaurantID,
		Address:      req.Address,
		Lines:        toLineRequests(req.Products),
	})
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())

	orders, err := h.orders.ListByCustomer(r.Context(), caller.ID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *Handler) showOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "orderID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	visible, err := h.canSee(r.Context(), o)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if !visible {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

// canSee reports whether the caller may view the order: the ordering
// customer and the owner of the order's restaurant may.
func (h *Handler) canSee(ctx context.Context, o *order.Order) (bool, error) {
	caller, ok := callerFromContext(ctx)
	if !ok {
		return false, nil
	}
	if o.UserID == caller.ID {
		return true, nil
	}
	return h.ownsRestaurant(ctx, caller.ID, o.RestaurantID)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "orderID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	caller, _ := callerFromContext(r.Context())

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.RestaurantID != nil {
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Code:    http.StatusUnprocessableEntity,
			Message: "the restaurant of an order cannot be changed",
			Field:   "restaurantId",
		})
		return
	}

	existing, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if existing.UserID != caller.ID {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	o, err := h.orders.Update(r.Context(), order.UpdateRequest{
		OrderID: id,
		Address: req.Address,
		Lines:   toLineRequests(req.Products),
	})
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) destroyOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "orderID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	caller, _ := callerFromContext(r.Context())

	existing, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if existing.UserID != caller.ID {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	if err := h.orders.Destroy(r.Context(), id); err != nil {
		h.mapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transition factors the shared shape of the four lifecycle endpoints:
// resolve the order, check restaurant ownership, apply.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, orderID int64) (*order.Order, error)) {
	id, ok := pathID(r, "orderID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	caller, _ := callerFromContext(r.Context())

	existing, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	owns, err := h.ownsRestaurant(r.Context(), caller.ID, existing.RestaurantID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if !owns {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	o, err := apply(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Confirm)
}

func (h *Handler) sendOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Send)
}

func (h *Handler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Deliver)
}

func (h *Handler) backwardOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Backward)
}

func (h *Handler) restaurantOrders(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := pathID(r, "restaurantID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid restaurant id")
		return
	}
	caller, _ := callerFromContext(r.Context())

	owns, err := h.ownsRestaurant(r.Context(), caller.ID, restaurantID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if !owns {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	orders, err := h.orders.ListByRestaurant(r.Context(), restaurantID, filter)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *Handler) restaurantAnalytics(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := pathID(r, "restaurantID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid restaurant id")
		return
	}
	caller, _ := callerFromContext(r.Context())

	owns, err := h.ownsRestaurant(r.Context(), caller.ID, restaurantID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if !owns {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	a, err := h.orders.Analytics(r.Context(), restaurantID, time.Now())
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, analyticsResponse{
		RestaurantID:            a.RestaurantID,
		NumYesterdayOrders:      a.NumYesterdayOrders,
		NumPendingOrders:        a.NumPendingOrders,
		NumDeliveredTodayOrders: a.NumDeliveredTodayOrders,
		InvoicedToday:           a.InvoicedToday.InexactFloat64(),
	})
}

const dateLayout = "2006-01-02"

// parseListFilter reads the status/from/to query parameters. The "to" date
// is inclusive: it is converted to an exclusive bound at the start of the
// following day.
func parseListFilter(r *http.Request) (order.ListFilter, error) {
	var f order.ListFilter

	if s := r.URL.Query().Get("status"); s != "" {
		switch st := order.Status(s); st {
		case order.StatusPending, order.StatusInProcess, order.StatusSent, order.StatusDelivered:
			f.Status = st
		default:
			return f, &order.ValidationError{Field: "status", Message: "unknown status " + strconv.Quote(s)}
		}
	}
	if s := r.URL.Query().Get("from"); s != "" {
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return f, &order.ValidationError{Field: "from", Message: "expected YYYY-MM-DD"}
		}
		f.CreatedFrom = d
	}
	if s := r.URL.Query().Get("to"); s != "" {
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return f, &order.ValidationError{Field: "to", Message: "expected YYYY-MM-DD"}
		}
		f.CreatedBefore = order.EndOfDay(d)
	}
	return f, nil
}
