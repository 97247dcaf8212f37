package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one critical dependency.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// PingProbe adapts a Ping-style function (pgxpool.Pool.Ping, kv.Store.Ping)
// into a HealthProbe.
type PingProbe struct {
	name string
	ping func(context.Context) error
}

// NewPingProbe names a ping function.
func NewPingProbe(name string, ping func(context.Context) error) *PingProbe {
	return &PingProbe{name: name, ping: ping}
}

func (p *PingProbe) Name() string                    { return p.name }
func (p *PingProbe) Check(ctx context.Context) error { return p.ping(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type probeResult struct {
	name string
	err  error
}

// HandleHealth runs every probe concurrently under a 2s deadline. Any failed
// or unfinished probe, or a draining server, yields 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Draining() {
		JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "draining"})
		return
	}

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	// Buffered so late probes never block after the deadline.
	results := make(chan probeResult, len(probes))
	for _, p := range probes {
		go func(p HealthProbe) {
			var err error
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("probe panicked: %v", rec)
				}
				results <- probeResult{name: p.Name(), err: err}
			}()
			err = p.Check(ctx)
		}(p)
	}

	components := make(map[string]componentStatus, len(probes))
	healthy := true
collect:
	for range probes {
		select {
		case res := <-results:
			if res.err != nil {
				healthy = false
				components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
			} else {
				components[res.name] = componentStatus{Status: "healthy"}
			}
		case <-ctx.Done():
			break collect
		}
	}
	for _, p := range probes {
		if _, ok := components[p.Name()]; !ok {
			healthy = false
			components[p.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		}
	}

	if healthy {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Components: components})
		return
	}
	JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Components: components})
}
