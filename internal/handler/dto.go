package handler

import (
	"time"

	"github.com/deliverus/orderd/internal/domain/order"
)

type lineRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type createOrderRequest struct {
	RestaurantID int64         `json:"restaurantId"`
	Address      string        `json:"address"`
	Products     []lineRequest `json:"products"`
}

// updateOrderRequest deliberately captures restaurantId so its presence can
// be rejected: the restaurant of an order cannot be changed.
type updateOrderRequest struct {
	RestaurantID *int64        `json:"restaurantId"`
	Address      string        `json:"address"`
	Products     []lineRequest `json:"products"`
}

type lineResponse struct {
	ProductID int64   `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type orderResponse struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"userId"`
	RestaurantID  int64          `json:"restaurantId"`
	Address       string         `json:"address"`
	Price         float64        `json:"price"`
	ShippingCosts float64        `json:"shippingCosts"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
	StartedAt     *time.Time     `json:"startedAt"`
	SentAt        *time.Time     `json:"sentAt"`
	DeliveredAt   *time.Time     `json:"deliveredAt"`
	Products      []lineResponse `json:"products"`
}

type analyticsResponse struct {
	RestaurantID            int64   `json:"restaurantId"`
	NumYesterdayOrders      int64   `json:"numYesterdayOrders"`
	NumPendingOrders        int64   `json:"numPendingOrders"`
	NumDeliveredTodayOrders int64   `json:"numDeliveredTodayOrders"`
	InvoicedToday           float64 `json:"invoicedToday"`
}

type errorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func toOrderResponse(o *order.Order) orderResponse {
	lines := make([]lineResponse, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = lineResponse{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.InexactFloat64(),
		}
	}
	return orderResponse{
		ID:            o.ID,
		UserID:        o.UserID,
		RestaurantID:  o.RestaurantID,
		Address:       o.Address,
		Price:         o.Price.InexactFloat64(),
		ShippingCosts: o.ShippingCosts.InexactFloat64(),
		Status:        string(o.Status()),
		CreatedAt:     o.CreatedAt,
		StartedAt:     o.StartedAt,
		SentAt:        o.SentAt,
		DeliveredAt:   o.DeliveredAt,
		Products:      lines,
	}
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	return out
}

func toLineRequests(products []lineRequest) []order.LineRequest {
	lines := make([]order.LineRequest, len(products))
	for i, p := range products {
		lines[i] = order.LineRequest{ProductID: p.ProductID, Quantity: p.Quantity}
	}
	return lines
}
