package handler

import "github.com/go-chi/chi/v5"

// Mount registers the API routes on r, plus the HTML dashboard when
// dashboard is true.
func (h *Handler) Mount(r chi.Router, dashboard bool) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/referrals", h.CreateReferral)
		r.Get("/referrals/{code}", h.GetReferral)
		r.Post("/purchases", h.CompletePurchase)

		r.Route("/coupons", func(r chi.Router) {
			r.Get("/", h.ListCoupons)
			r.Delete("/{code}", h.DeleteCoupon)
		})

		r.Route("/users/{tg_id}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Get("/purchases", h.ListPurchases)
		})
	})

	if dashboard {
		r.Get("/", h.Dashboard)
		r.Post("/invite", h.InviteForm)
		r.Post("/purchase", h.PurchaseForm)
		r.Delete("/coupon/{code}", h.DeleteCouponForm)
	}

	r.Get("/health", h.Health)
}
