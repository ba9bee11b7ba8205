package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/instaboost/smmpanel/internal/middleware"
	"github.com/instaboost/smmpanel/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware SMM-панели.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)

		r.Get("/services", h.GetServices)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/auth/user", h.GetUser)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.GetOrders)

			r.Post("/payments", h.CreatePayment)
			r.Get("/payments", h.GetPayments)

			r.Post("/bonus/claim", h.ClaimBonus)

			r.Get("/referrals", h.GetReferrals)
			r.Post("/use-referral", h.UseReferral)
			r.Post("/referrals/claim-reward", h.ClaimReferralReward)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.adminOnly)

			r.Post("/admin/payments/{id}/approve", h.ResolvePayment(model.PaymentStatusApproved))
			r.Post("/admin/payments/{id}/decline", h.ResolvePayment(model.PaymentStatusDeclined))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
