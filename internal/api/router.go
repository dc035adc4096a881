package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP surface. Everything except the health probe sits
// behind the shared API key.
func NewRouter(h *Handler, apiKey string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/api/webhooks/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(apiKey))

		r.Route("/api/webhooks", func(r chi.Router) {
			r.Get("/pull", h.Pull)
			r.Post("/pull", h.Pull)
			r.Post("/mark-processed", h.MarkProcessed)
			r.Get("/stats", h.Stats)
			r.Post("/notify", h.Notify)
			r.Post("/maintenance/run", h.RunMaintenance)
			r.Get("/dead-letters", h.DeadLetters)
		})

		r.Route("/api/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Get("/{id}", h.GetRule)
			r.Put("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.DeleteRule)
		})

		r.Route("/api/sync", func(r chi.Router) {
			r.Get("/state", h.SyncState)
			r.Post("/state", h.SyncState)
			r.Post("/advance", h.SyncAdvance)
			r.Get("/stats", h.SyncStats)
			r.Get("/devices", h.SyncDevices)
		})
	})

	return r
}
