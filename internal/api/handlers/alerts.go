package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"geowatch/internal/core"
	"geowatch/internal/types"
)

// AlertResolver closes out a pending alert.
type AlertResolver interface {
	Resolve(ctx context.Context, id string, status types.AlertStatus, handlerID, note string, at time.Time) (*types.Alert, error)
}

// ResolveAlertRequest is the body of POST /v1/alerts/{id}/resolve.
type ResolveAlertRequest struct {
	Status    string `json:"status" validate:"required,alert_resolution"`
	HandlerID string `json:"handler_id" validate:"required,max=64"`
	Note      string `json:"note,omitempty" validate:"max=2000"`
}

// AlertHandler records how operators handled alerts.
type AlertHandler struct {
	alerts    AlertResolver
	validator *core.Validator
	logger    *slog.Logger
	clock     types.Clock
}

// NewAlertHandler creates an AlertHandler. clock may be nil.
func NewAlertHandler(alerts AlertResolver, v *core.Validator, l *slog.Logger, clock types.Clock) *AlertHandler {
	if l == nil {
		l = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &AlertHandler{alerts: alerts, validator: v, logger: l, clock: clock}
}

// RegisterRoutes mounts POST /alerts/{id}/resolve.
func (h *AlertHandler) RegisterRoutes(r chi.Router) {
	r.Post("/alerts/{id}/resolve", h.Resolve)
}

// Resolve handles POST /v1/alerts/{id}/resolve. Only a PENDING alert can be
// handled; a second attempt returns 409.
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolveAlertRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	alert, err := h.alerts.Resolve(r.Context(), id, types.AlertStatus(req.Status), req.HandlerID, req.Note, h.clock.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "alert handled",
		"alert_id", id,
		"status", req.Status,
		"handler_id", req.HandlerID,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: alert})
}
