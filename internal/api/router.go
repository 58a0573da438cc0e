package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aclarai/vaultsync/internal/syncservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *syncservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Blocks.
	r.Get("/blocks", h.ListBlocks)
	r.Get("/blocks/{id}", h.GetBlock)
	r.Put("/blocks/{id}", h.UpdateBlock)
	r.Post("/blocks/{id}/reprocessed", h.MarkReprocessed)

	// Conflicts.
	r.Get("/conflicts", h.ListConflicts)

	// On-demand sync.
	r.Post("/sync", h.RunSync)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
