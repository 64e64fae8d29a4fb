// Package api exposes the engine's HTTP surface: campaign lifecycle
// commands, plan inspection, stats, and the provider webhook endpoint.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes builds the router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/campaigns", func(r chi.Router) {
		r.Post("/", h.CreateCampaign)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCampaign)
			r.Put("/config", h.UpdateConfig)
			r.Post("/start", h.StartCampaign)
			r.Post("/pause", h.PauseCampaign)
			r.Post("/resume", h.ResumeCampaign)
			r.Post("/recipients", h.ImportRecipients)
			r.Get("/stats", h.CampaignStats)
			r.Get("/events", h.CampaignEvents)
			r.Route("/plan", func(r chi.Router) {
				r.Get("/", h.PlanByDay)
				r.Get("/today", h.PlanToday)
				r.Get("/simulate", h.PlanSimulate)
				r.Post("/regenerate", h.PlanRegenerate)
			})
		})
	})

	r.Post("/webhooks/events", h.WebhookEvents)

	return r
}
