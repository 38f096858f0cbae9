/**
 * @description
 * This file sets up the HTTP router for the meal-mitra API using go-chi/chi.
 * It applies logging, recovery, timeout and CORS middleware, and maps the
 * donation lifecycle, impact and admin routes to their handlers.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the API routes.
func NewRouter(h *Handlers, jwtSecret string, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(jwtSecret))

		r.Post("/donations", h.CreateDonationHandler)
		r.Get("/donations", h.ListDonationsHandler)
		r.Get("/donations/{id}", h.GetDonationHandler)
		r.Patch("/donations/{id}", h.UpdateDonationHandler)
		r.Post("/donations/{id}/claim", h.ClaimDonationHandler)
		r.Post("/donations/{id}/verify", h.VerifyHandoverHandler)
		r.Get("/my-donations", h.MyDonationsHandler)

		r.Get("/dashboard", h.DashboardHandler)
		r.Get("/profile/badges", h.BadgesHandler)
		r.Get("/achievements", h.AchievementsHandler)
		r.Get("/impact/certificate", h.CertificateHandler)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/donations", h.AdminListDonationsHandler)
			r.Delete("/donations/{id}", h.AdminDeleteDonationHandler)
		})
	})

	return r
}
