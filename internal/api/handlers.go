package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aclarai/vaultsync/internal/apperr"
	"github.com/aclarai/vaultsync/internal/syncservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *syncservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *syncservice.Service) *Handler {
	return &Handler{svc: svc}
}

// GetBlock handles GET /api/blocks/{id}.
//
//	@Summary		Get a single block by id
//	@Tags			blocks
//	@Produce		json
//	@Param			id	path		string	true	"Block id"
//	@Success		200	{object}	graphstore.NodeRecord
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id} [get]
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	rec, err := h.svc.GetBlock(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get block failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListBlocks handles GET /api/blocks. Only the dirty listing is exposed;
// requesting without dirty=1 is rejected rather than dumping the graph.
//
//	@Summary		List blocks flagged for reprocessing
//	@Tags			blocks
//	@Produce		json
//	@Param			dirty	query		string	true	"Must be 1 or true"
//	@Success		200		{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/blocks [get]
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	dirty := r.URL.Query().Get("dirty")
	if dirty != "1" && !strings.EqualFold(dirty, "true") {
		writeJSON(w, http.StatusBadRequest, errorBody("only dirty=1 listing is supported"))
		return
	}
	recs, err := h.svc.DirtyBlocks(r.Context())
	if err != nil {
		slog.Error("list dirty blocks failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"blocks": recs,
		"total":  len(recs),
	})
}

// UpdateBlock handles PUT /api/blocks/{id}: rewrites the block's text in
// its vault file and syncs the file back into the graph.
//
//	@Summary		Update a block's content through the write-back path
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string	true	"Block id"
//	@Param			body	body		UpdateBlockRequest	true	"New content"
//	@Success		200		{object}	reconcile.Summary
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id} [put]
func (h *Handler) UpdateBlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorBody("request body is required"))
		} else {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		}
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}

	sum, err := h.svc.UpdateBlockText(r.Context(), id, req.Text)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("update block failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// MarkReprocessed handles POST /api/blocks/{id}/reprocessed: a downstream
// consumer acknowledges it handled the block's latest content.
//
//	@Summary		Clear a block's reprocessing flag
//	@Tags			blocks
//	@Produce		json
//	@Param			id	path	string	true	"Block id"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id}/reprocessed [post]
func (h *Handler) MarkReprocessed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	if err := h.svc.MarkReprocessed(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("mark reprocessed failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConflicts handles GET /api/conflicts.
//
//	@Summary		List unresolved version conflicts
//	@Tags			conflicts
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/conflicts [get]
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.svc.ListConflicts(r.Context())
	if err != nil {
		slog.Error("list conflicts failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": conflicts,
		"total":     len(conflicts),
	})
}

// RunSync handles POST /api/sync: one on-demand full pass over the vault.
//
//	@Summary		Run one full vault scan
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	reconcile.Summary
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.RunPass(r.Context())
	if err != nil {
		slog.Error("sync pass failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
