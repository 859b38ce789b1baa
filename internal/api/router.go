package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dispatchd/internal/recordservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *recordservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/tables", h.ListTables)

	r.Route("/tables/{table}", func(r chi.Router) {
		// Records.
		r.Get("/records", h.ListRecords)
		r.Post("/records", h.CreateRecord)
		r.Get("/records/{id}", h.GetRecord)
		r.Patch("/records/{id}", h.UpdateRecord)

		// Reconciliation.
		r.Get("/changes", h.PendingChanges)
		r.Post("/cycle", h.RunCycle)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
