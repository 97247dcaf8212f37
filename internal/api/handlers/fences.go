package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"geowatch/internal/core"
)

// FenceInvalidator reloads one fence into the in-memory catalog.
type FenceInvalidator interface {
	OnFenceChanged(ctx context.Context, fenceID string) error
}

// FenceHandler receives change notifications from the fence-management
// collaborator, which owns fence CRUD.
type FenceHandler struct {
	catalog FenceInvalidator
	logger  *slog.Logger
}

// NewFenceHandler creates a FenceHandler.
func NewFenceHandler(catalog FenceInvalidator, l *slog.Logger) *FenceHandler {
	if l == nil {
		l = slog.Default()
	}
	return &FenceHandler{catalog: catalog, logger: l}
}

// RegisterRoutes mounts POST /fences/{id}/changed.
func (h *FenceHandler) RegisterRoutes(r chi.Router) {
	r.Post("/fences/{id}/changed", h.Changed)
}

// Changed handles POST /v1/fences/{id}/changed. Created, updated, deactivated
// and deleted fences all go through the same reload; a fence that no longer
// exists is evicted, so the call is idempotent.
func (h *FenceHandler) Changed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.catalog.OnFenceChanged(r.Context(), id); err != nil {
		h.logger.ErrorContext(r.Context(), "fence reload failed", "fence_id", id, "error", err)
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "fence reloaded", "fence_id", id)
	w.WriteHeader(http.StatusNoContent)
}
