// Package core provides the HTTP chassis for the GeoWatch API. It builds a chi
// router with the cross-cutting middleware (panic recovery, request IDs,
// logging, metrics, tenant scoping, idempotency) that runs before requests
// reach the domain handlers in internal/api/handlers.
package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"geowatch/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	// RecordRequest observes one request. route is the chi route pattern, not
	// the raw path, so label cardinality stays bounded.
	RecordRequest(method, route, status string, duration time.Duration)
}

// Server holds the dependencies of the API. Fields other than Config and
// Logger are optional and may be set between NewServer and MountRoutes.
type Server struct {
	Config           *config.Config
	Logger           *slog.Logger
	Validator        *Validator
	Metrics          MetricsCollector
	HealthProbes     []HealthProbe
	IdempotencyStore IdempotencyStore

	// MetricsHandler, when set, is served at GET /metrics.
	MetricsHandler http.Handler

	// V1RouteRegistrars mount domain handlers under /v1. Populated by the
	// entry point so core never imports the handler packages.
	V1RouteRegistrars []func(chi.Router)

	draining atomic.Bool
	router   *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// The caller mounts routes with MountRoutes after wiring optional fields.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests and custom mounting.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Draining reports whether Shutdown has been called.
func (s *Server) Draining() bool {
	return s.draining.Load()
}

// Shutdown marks the server as draining so health checks fail and load
// balancers stop routing to it. Closing the listener and the backing pools is
// left to the entry point, which owns them.
func (s *Server) Shutdown(_ context.Context) error {
	if s.draining.Swap(true) {
		return nil
	}
	s.Logger.Info("server draining")
	return nil
}
