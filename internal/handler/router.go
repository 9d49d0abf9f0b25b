package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deliverus/orderd/internal/domain/user"
)

// Routes builds the authenticated API router. Role gates mirror the
// ownership model: customers place and edit orders, owners run them.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Route("/orders", func(r chi.Router) {
			r.With(requireRole(user.RoleCustomer)).Post("/", h.createOrder)
			r.With(requireRole(user.RoleCustomer)).Get("/", h.listMyOrders)

			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", h.showOrder)
				r.With(requireRole(user.RoleCustomer)).Put("/", h.updateOrder)
				r.With(requireRole(user.RoleCustomer)).Delete("/", h.destroyOrder)

				r.Group(func(r chi.Router) {
					r.Use(requireRole(user.RoleOwner))
					r.Patch("/confirm", h.confirmOrder)
					r.Patch("/send", h.sendOrder)
					r.Patch("/deliver", h.deliverOrder)
					r.Patch("/backward", h.backwardOrder)
				})
			})
		})

		r.Route("/restaurants/{restaurantID}", func(r chi.Router) {
			r.Use(requireRole(user.RoleOwner))
			r.Get("/orders", h.restaurantOrders)
			r.Get("/analytics", h.restaurantAnalytics)
		})
	})

	return r
}
