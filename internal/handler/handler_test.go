package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliverus/orderd/internal/domain/order"
	"github.com/deliverus/orderd/internal/domain/restaurant"
	"github.com/deliverus/orderd/internal/domain/user"
)

var testPepper = []byte("test-pepper")

const (
	customerKey   = "alice-key"
	ownerKey      = "marco-key"
	otherOwnerKey = "nadia-key"
)

type mockUserRepo struct {
	byHash map[string]*user.User
}

func (m *mockUserRepo) FindByAPIKeyHash(_ context.Context, hash string) (*user.User, error) {
	u, ok := m.byHash[hash]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

type mockRestaurantRepo struct {
	byID map[int64]*restaurant.Restaurant
}

func (m *mockRestaurantRepo) GetByID(_ context.Context, id int64) (*restaurant.Restaurant, error) {
	r, ok := m.byID[id]
	if !ok {
		return nil, restaurant.ErrNotFound
	}
	return r, nil
}

// mockOrderService routes each call to a settable function so every test
// wires only the methods it exercises.
type mockOrderService struct {
	create           func(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	update           func(ctx context.Context, req order.UpdateRequest) (*order.Order, error)
	destroy          func(ctx context.Context, orderID int64) error
	get              func(ctx context.Context, orderID int64) (*order.Order, error)
	listByCustomer   func(ctx context.Context, userID int64) ([]order.Order, error)
	listByRestaurant func(ctx context.Context, restaurantID int64, f order.ListFilter) ([]order.Order, error)
	analytics        func(ctx context.Context, restaurantID int64, now time.Time) (*order.Analytics, error)
}

func (m *mockOrderService) Create(ctx context.Context, req order.CreateRequest) (*order.Order, error) {
	return m.create(ctx, req)
}

func (m *mockOrderService) Update(ctx context.Context, req order.UpdateRequest) (*order.Order, error) {
	return m.update(ctx, req)
}

func (m *mockOrderService) Destroy(ctx context.Context, orderID int64) error {
	return m.destroy(ctx, orderID)
}

func (m *mockOrderService) Get(ctx context.Context, orderID int64) (*order.Order, error) {
	return m.get(ctx, orderID)
}

func (m *mockOrderService) ListByCustomer(ctx context.Context, userID int64) ([]order.Order, error) {
	return m.listByCustomer(ctx, userID)
}

func (m *mockOrderService) ListByRestaurant(ctx context.Context, restaurantID int64, f order.ListFilter) ([]order.Order, error) {
	return m.listByRestaurant(ctx, restaurantID, f)
}

func (m *mockOrderService) Analytics(ctx context.Context, restaurantID int64, now time.Time) (*order.Analytics, error) {
	return m.analytics(ctx, restaurantID, now)
}

type mockLifecycle struct {
	confirm  func(ctx context.Context, orderID int64) (*order.Order, error)
	send     func(ctx context.Context, orderID int64) (*order.Order, error)
	deliver  func(ctx context.Context, orderID int64) (*order.Order, error)
	backward func(ctx context.Context, orderID int64) (*order.Order, error)
}

func (m *mockLifecycle) Confirm(ctx context.Context, orderID int64) (*order.Order, error) {
	return m.confirm(ctx, orderID)
}

func (m *mockLifecycle) Send(ctx context.Context, orderID int64) (*order.Order, error) {
	return m.send(ctx, orderID)
}

func (m *mockLifecycle) Deliver(ctx context.Context, orderID int64) (*order.Order, error) {
	return m.deliver(ctx, orderID)
}

func (m *mockLifecycle) Backward(ctx context.Context, orderID int64) (*order.Order, error) {
	return m.backward(ctx, orderID)
}

// newTestServer wires a router over the given mocks with three known
// callers: customer 1, the owner of restaurant 10 (user 2), and the owner
// of restaurant 11 (user 3).
func newTestServer(t *testing.T, orders *mockOrderService, lifecycle *mockLifecycle) *httptest.Server {
	t.Helper()

	users := &mockUserRepo{byHash: map[string]*user.User{
		HashAPIKey(customerKey, testPepper):   {ID: 1, Name: "Alice", Role: user.RoleCustomer},
		HashAPIKey(ownerKey, testPepper):      {ID: 2, Name: "Marco", Role: user.RoleOwner},
		HashAPIKey(otherOwnerKey, testPepper): {ID: 3, Name: "Nadia", Role: user.RoleOwner},
	}}
	restaurants := &mockRestaurantRepo{byID: map[int64]*restaurant.Restaurant{
		10: {ID: 10, OwnerID: 2, Name: "Trattoria", ShippingCosts: decimal.NewFromFloat(2.5)},
		11: {ID: 11, OwnerID: 3, Name: "Bistro", ShippingCosts: decimal.NewFromFloat(1)},
	}}

	h := NewHandler(orders, lifecycle, restaurants, users, testPepper)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, apiKey string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func decodeError(t *testing.T, body []byte) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func sampleOrder(id, userID, restaurantID int64) *order.Order {
	return &order.Order{
		ID:            id,
		UserID:        userID,
		RestaurantID:  restaurantID,
		Address:       "Calle Betis 1",
		Price:         decimal.NewFromFloat(10.5),
		ShippingCosts: decimal.NewFromFloat(2.5),
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Lines: []order.Line{
			{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromFloat(4)},
		},
	}
}

// --- Authentication and roles ---

func TestAuth_MissingKey(t *testing.T) {
	srv := newTestServer(t, &mockOrderService{}, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_UnknownKey(t *testing.T) {
	srv := newTestServer(t, &mockOrderService{}, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodGet, "/orders", "no-such-key", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_OwnerCannotPlaceOrders(t *testing.T) {
	srv := newTestServer(t, &mockOrderService{}, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodPost, "/orders", ownerKey, createOrderRequest{
		RestaurantID: 10,
		Address:      "Calle Betis 1",
		Products:     []lineRequest{{ProductID: 1, Quantity: 1}},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuth_CustomerCannotConfirm(t *testing.T) {
	srv := newTestServer(t, &mockOrderService{}, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodPatch, "/orders/5/confirm", customerKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// --- Create ---

func TestCreateOrder(t *testing.T) {
	orders := &mockOrderService{
		create: func(_ context.Context, req order.CreateRequest) (*order.Order, error) {
			assert.Equal(t, int64(1), req.UserID)
			assert.Equal(t, int64(10), req.RestaurantID)
			require.Len(t, req.Lines, 1)
			return sampleOrder(5, req.UserID, req.RestaurantID), nil
		},
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	resp, body := doRequest(t, srv, http.MethodPost, "/orders", customerKey, createOrderRequest{
		RestaurantID: 10,
		Address:      "Calle Betis 1",
		Products:     []lineRequest{{ProductID: 1, Quantity: 2}},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var got orderResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, int64(5), got.ID)
	assert.Equal(t, "pending", got.Status)
	assert.InDelta(t, 10.5, got.Price, 1e-9)
	assert.InDelta(t, 2.5, got.ShippingCosts, 1e-9)
}

func TestCreateOrder_ValidationError(t *testing.T) {
	orders := &mockOrderService{
		create: func(context.Context, order.CreateRequest) (*order.Order, error) {
			return nil, &order.ValidationError{Field: "products", Message: "at least one product is required"}
		},
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	resp, body := doRequest(t, srv, http.MethodPost, "/orders", customerKey, createOrderRequest{
		RestaurantID: 10,
		Address:      "Calle Betis 1",
	})

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	e := decodeError(t, body)
	assert.Equal(t, "products", e.Field)
	assert.False(t, e.Retryable)
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	srv := newTestServer(t, &mockOrderService{}, &mockLifecycle{})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/orders", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	req.Header.Set(APIKeyHeader, customerKey)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- Show ---

func TestShowOrder_Visibility(t *testing.T) {
	orders := &mockOrderService{
		get: func(_ context.Context, id int64) (*order.Order, error) {
			return sampleOrder(id, 1, 10), nil
		},
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	tests := []struct {
		name   string
		apiKey string
		status int
	}{
		{"ordering customer", customerKey, http.StatusOK},
		{"restaurant owner", ownerKey, http.StatusOK},
		{"unrelated owner", otherOwnerKey, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doRequest(t, srv, http.MethodGet, "/orders/5", tt.apiKey, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestShowOrder_NotFound(t *testing.T) {
	orders := &mockOrderService{
		get: func(context.Context, int64) (*order.Order, error) { return nil, order.ErrNotFound },
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodGet, "/orders/99", customerKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShowOrder_BadID(t *testing.T) {
	srv := newTestServer(t, &mockOrderService{}, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodGet, "/orders/abc", customerKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- Update ---

func TestUpdateOrder_RestaurantChangeRejected(t *testing.T) {
	srv := newTestServer(t, &mockOrderService{}, &mockLifecycle{})

	restaurantID := int64(11)
	resp, body := doRequest(t, srv, http.MethodPut, "/orders/5", customerKey, updateOrderRequest{
		RestaurantID: &restaurantID,
		Address:      "Calle Betis 1",
		Products:     []lineRequest{{ProductID: 1, Quantity: 1}},
	})

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	e := decodeError(t, body)
	assert.Equal(t, "restaurantId", e.Field)
}

func TestUpdateOrder_ForeignOrderForbidden(t *testing.T) {
	orders := &mockOrderService{
		get: func(_ context.Context, id int64) (*order.Order, error) {
			return sampleOrder(id, 42, 10), nil
		},
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodPut, "/orders/5", customerKey, updateOrderRequest{
		Address:  "Calle Betis 1",
		Products: []lineRequest{{ProductID: 1, Quantity: 1}},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUpdateOrder_ConflictRetryable(t *testing.T) {
	orders := &mockOrderService{
		get: func(_ context.Context, id int64) (*order.Order, error) {
			return sampleOrder(id, 1, 10), nil
		},
		update: func(context.Context, order.UpdateRequest) (*order.Order, error) {
			return nil, order.ErrConflict
		},
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	resp, body := doRequest(t, srv, http.MethodPut, "/orders/5", customerKey, updateOrderRequest{
		Address:  "Calle Betis 1",
		Products: []lineRequest{{ProductID: 1, Quantity: 1}},
	})

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.True(t, decodeError(t, body).Retryable)
}

// --- Destroy ---

func TestDestroyOrder(t *testing.T) {
	destroyed := false
	orders := &mockOrderService{
		get: func(_ context.Context, id int64) (*order.Order, error) {
			return sampleOrder(id, 1, 10), nil
		},
		destroy: func(_ context.Context, id int64) error {
			destroyed = true
			return nil
		},
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodDelete, "/orders/5", customerKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, destroyed)
}

// --- Lifecycle endpoints ---

func TestConfirmOrder(t *testing.T) {
	orders := &mockOrderService{
		get: func(_ context.Context, id int64) (*order.Order, error) {
			return sampleOrder(id, 1, 10), nil
		},
	}
	lifecycle := &mockLifecycle{
		confirm: func(_ context.Context, id int64) (*order.Order, error) {
			o := sampleOrder(id, 1, 10)
			started := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
			o.StartedAt = &started
			return o, nil
		},
	}
	srv := newTestServer(t, orders, lifecycle)

	resp, body := doRequest(t, srv, http.MethodPatch, "/orders/5/confirm", ownerKey, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got orderResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "in process", got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestConfirmOrder_ForeignRestaurantForbidden(t *testing.T) {
	orders := &mockOrderService{
		get: func(_ context.Context, id int64) (*order.Order, error) {
			return sampleOrder(id, 1, 10), nil
		},
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodPatch, "/orders/5/confirm", otherOwnerKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDeliverOrder_InvalidTransition(t *testing.T) {
	orders := &mockOrderService{
		get: func(_ context.Context, id int64) (*order.Order, error) {
			return sampleOrder(id, 1, 10), nil
		},
	}
	lifecycle := &mockLifecycle{
		deliver: func(_ context.Context, id int64) (*order.Order, error) {
			return nil, &order.InvalidTransitionError{OrderID: id, From: order.StatusPending, Transition: "deliver"}
		},
	}
	srv := newTestServer(t, orders, lifecycle)

	resp, body := doRequest(t, srv, http.MethodPatch, "/orders/5/deliver", ownerKey, nil)

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, decodeError(t, body).Retryable)
}

func TestSendOrder_StorageTimeout(t *testing.T) {
	orders := &mockOrderService{
		get: func(_ context.Context, id int64) (*order.Order, error) {
			return sampleOrder(id, 1, 10), nil
		},
	}
	lifecycle := &mockLifecycle{
		send: func(context.Context, int64) (*order.Order, error) {
			return nil, errors.Wrap(order.ErrStorageTimeout, "set timestamp")
		},
	}
	srv := newTestServer(t, orders, lifecycle)

	resp, body := doRequest(t, srv, http.MethodPatch, "/orders/5/send", ownerKey, nil)

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, decodeError(t, body).Retryable)
}

func TestBackwardOrder(t *testing.T) {
	orders := &mockOrderService{
		get: func(_ context.Context, id int64) (*order.Order, error) {
			o := sampleOrder(id, 1, 10)
			started := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
			o.StartedAt = &started
			return o, nil
		},
	}
	lifecycle := &mockLifecycle{
		backward: func(_ context.Context, id int64) (*order.Order, error) {
			return sampleOrder(id, 1, 10), nil
		},
	}
	srv := newTestServer(t, orders, lifecycle)

	resp, body := doRequest(t, srv, http.MethodPatch, "/orders/5/backward", ownerKey, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got orderResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "pending", got.Status)
}

// --- Restaurant views ---

func TestRestaurantOrders_FilterParsing(t *testing.T) {
	var gotFilter order.ListFilter
	orders := &mockOrderService{
		listByRestaurant: func(_ context.Context, restaurantID int64, f order.ListFilter) ([]order.Order, error) {
			gotFilter = f
			return []order.Order{*sampleOrder(5, 1, restaurantID)}, nil
		},
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodGet,
		"/restaurants/10/orders?status=pending&from=2026-03-01&to=2026-03-05", ownerKey, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, order.StatusPending, gotFilter.Status)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), gotFilter.CreatedFrom)
	// The inclusive "to" date becomes an exclusive bound one day later.
	assert.Equal(t, time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC), gotFilter.CreatedBefore)
}

func TestRestaurantOrders_BadFilter(t *testing.T) {
	srv := newTestServer(t, &mockOrderService{}, &mockLifecycle{})

	for path, field := range map[string]string{
		"/restaurants/10/orders?status=cooked": "status",
		"/restaurants/10/orders?from=03-2026":  "from",
		"/restaurants/10/orders?to=tomorrow":   "to",
	} {
		resp, body := doRequest(t, srv, http.MethodGet, path, ownerKey, nil)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, path)
		assert.Equal(t, field, decodeError(t, body).Field, path)
	}
}

func TestRestaurantOrders_ForeignRestaurantForbidden(t *testing.T) {
	srv := newTestServer(t, &mockOrderService{}, &mockLifecycle{})

	resp, _ := doRequest(t, srv, http.MethodGet, "/restaurants/10/orders", otherOwnerKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRestaurantAnalytics(t *testing.T) {
	orders := &mockOrderService{
		analytics: func(_ context.Context, restaurantID int64, _ time.Time) (*order.Analytics, error) {
			return &order.Analytics{
				RestaurantID:            restaurantID,
				NumYesterdayOrders:      3,
				NumPendingOrders:        2,
				NumDeliveredTodayOrders: 4,
				InvoicedToday:           decimal.NewFromFloat(57.25),
			}, nil
		},
	}
	srv := newTestServer(t, orders, &mockLifecycle{})

	resp, body := doRequest(t, srv, http.MethodGet, "/restaurants/10/analytics", ownerKey, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got analyticsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, int64(10), got.RestaurantID)
	assert.Equal(t, int64(3), got.NumYesterdayOrders)
	assert.Equal(t, int64(2), got.NumPendingOrders)
	assert.Equal(t, int64(4), got.NumDeliveredTodayOrders)
	assert.InDelta(t, 57.25, got.InvoicedToday, 1e-9)
}
