package order

import "github.com/shopspring/decimal"

// FreeShippingThreshold is the subtotal above which shipping is free.
// The bound is strict: a subtotal of exactly 10.00 still pays shipping.
var FreeShippingThreshold = decimal.NewFromInt(10)

// Quote is the result of pricing an order: the line-item subtotal, the
// shipping cost applied, and their sum.
type Quote struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// ComputePrice prices a set of lines against a restaurant's flat shipping
// cost. It is a pure function: the same lines and shipping policy always
// produce the same quote, on both the create and the update path.
//
// All three amounts are rounded to 2 decimal places using decimal's
// half-away-from-zero rounding.
func ComputePrice(lines []Line, restaurantShipping decimal.Decimal) Quote {
	subtotal := decimal.Zero
	for _, l := range lines {
		qty := decimal.NewFromInt(int64(l.Quantity))
		subtotal = subtotal.Add(l.UnitPrice.Mul(qty))
	}
	subtotal = subtotal.Round(2)

	shipping := decimal.Zero
	if !subtotal.GreaterThan(FreeShippingThreshold) {
		shipping = restaurantShipping.Round(2)
	}

	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Total:    subtotal.Add(shipping),
	}
}
