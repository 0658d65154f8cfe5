package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Version is reported by GET /api/v1/ and /health.
const Version = "0.1.0"

// MountRoutes registers all API routes on the given chi router. Tenant and
// auth middleware are applied by the caller.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		// Templates
		r.Get("/templates", h.ListTemplates)
		r.Get("/templates/{id}", h.GetTemplate)

		// Agents
		r.Get("/agents", h.ListAgents)

		// Task contexts
		r.Post("/contexts", h.CreateContext)
		r.Get("/contexts", h.ListContexts)
		r.Get("/contexts/{id}", h.GetContext)
		r.Get("/contexts/{id}/history", h.GetHistory)
		r.Post("/contexts/{id}/entries", h.AppendEntry)

		// Orchestration
		r.Post("/contexts/{id}/run", h.RunContext)
		r.Post("/contexts/{id}/ui-responses", h.SubmitUIResponse)

		// Streaming
		r.Get("/contexts/{id}/events", h.StreamEvents)
		r.Get("/contexts/{id}/ws", h.StreamWS)
	})
}
