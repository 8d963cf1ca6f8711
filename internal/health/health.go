// Package health serves the relay's process-level HTTP health and
// metrics endpoints. Both are read-only projections over state the
// scheduler thread owns exclusively — spec §5's "external callers...
// perform read-only projections" boundary.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/independant-validator/internal/metrics"
)

// DirectionStatus mirrors the per-direction (status, consecutiveFailures)
// state spec §5 tracks, for read-only reporting.
type DirectionStatus struct {
	Status             string `json:"status"` // "healthy", "degraded", "failed"
	ConsecutiveFailures int   `json:"consecutiveFailures"`
}

// Status is the full /health response body.
type Status struct {
	Status        string                     `json:"status"` // "ok", "degraded"
	Timestamp     time.Time                  `json:"timestamp"`
	UptimeSeconds int64                      `json:"uptimeSeconds"`
	Directions    map[string]DirectionStatus `json:"directions"`
}

// Tracker accumulates per-direction status updates from the scheduler and
// serves a consistent snapshot to the health handler.
type Tracker struct {
	mu         sync.RWMutex
	startedAt  time.Time
	directions map[string]DirectionStatus
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		startedAt:  time.Now(),
		directions: make(map[string]DirectionStatus),
	}
}

// SetDirectionStatus records the latest status for a named direction
// (e.g. "D1", "D2", "D2b", "D3", "D4", "D4b").
func (t *Tracker) SetDirectionStatus(direction string, status DirectionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.directions[direction] = status
}

// Snapshot builds the current Status, computing overall health as
// "degraded" whenever any direction is Failed (spec §5: "the health
// endpoint returning degraded status if any direction is Failed").
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := Status{
		Status:        "ok",
		Timestamp:     time.Now(),
		UptimeSeconds: int64(time.Since(t.startedAt).Seconds()),
		Directions:    make(map[string]DirectionStatus, len(t.directions)),
	}
	for name, d := range t.directions {
		out.Directions[name] = d
		if d.Status == "failed" {
			out.Status = "degraded"
		}
	}
	return out
}

// Server wraps the /health and /metrics HTTP routes.
type Server struct {
	httpServer *http.Server
	tracker    *Tracker
}

// Config carries the bind address and optional bearer token gating
// /metrics (spec §6: "optionally bearer-token-gated").
type Config struct {
	Addr               string
	MetricsBearerToken string
}

// DefaultAddr binds to loopback only, per spec §6's default.
const DefaultAddr = "127.0.0.1:9090"

// NewServer builds a Server bound to cfg.Addr (defaulting to loopback),
// serving tracker's snapshots on /health and reg's series on /metrics.
func NewServer(cfg Config, tracker *Tracker, reg *metrics.Registry) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := tracker.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	metricsHandler := promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if cfg.MetricsBearerToken != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+cfg.MetricsBearerToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		metricsHandler.ServeHTTP(w, r)
	})

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		tracker:    tracker,
	}
}

// Handler returns the server's routed http.Handler, for use in tests
// without binding a real listener.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
