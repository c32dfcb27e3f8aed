package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/temirlan-k/water-microservice/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса доставки воды.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/client", func(r chi.Router) {
			r.Post("/register", h.RegisterClient)
			r.Get("/profile", h.ClientProfile)

			r.Post("/residents", h.UpdateResidents)

			r.Get("/bonus", h.GetBalance)
			r.Post("/bonus/topup", h.TopUpBonus)
			r.Post("/bonus/deduct", h.DeductBonus)

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders/active", h.ActiveOrder)
			r.Post("/orders/code", h.IssueCode)
		})

		r.Route("/courier", func(r chi.Router) {
			r.Post("/register", h.RegisterCourier)
			r.Get("/profile", h.CourierProfile)
			r.Post("/redeem", h.Redeem)
		})

		r.Post("/support", h.Support)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
