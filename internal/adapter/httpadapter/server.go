// Package httpadapter serves the read API over the latest scoring snapshot,
// plus liveness, readiness, and Prometheus metrics.
package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/couchcryptid/watershed-sentinel/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SnapshotSource supplies the published read view and readiness.
type SnapshotSource interface {
	Snapshot() *pipeline.Snapshot
	CheckReadiness(ctx context.Context) error
}

// Server exposes the read API and operational endpoints.
type Server struct {
	httpServer *http.Server
	source     SnapshotSource
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the /api/v1 read routes and the
// /healthz, /readyz, and /metrics routes.
func NewServer(addr string, source SnapshotSource, clock clockwork.Clock, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		source: source,
		clock:  clock,
		logger: logger,
	}

	mux.HandleFunc("GET /api/v1/units", s.handleUnits)
	mux.HandleFunc("GET /api/v1/units/{unit}", s.handleUnit)
	mux.HandleFunc("GET /api/v1/units/{unit}/events", s.handleUnitEvents)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/resolved", s.handleResolved)
	mux.HandleFunc("GET /api/v1/sources", s.handleSources)

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(source))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type unitsResponse struct {
	ScoredAt time.Time           `json:"scoredAt"`
	Units    []domain.ScoredUnit `json:"units"`
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	level := domain.LevelNominal
	if v := strings.TrimSpace(r.URL.Query().Get("level")); v != "" {
		level = domain.Level(strings.ToUpper(v))
		if level != domain.LevelNominal && level.Rank() == 0 {
			writeError(w, http.StatusBadRequest, "unknown level "+v)
			return
		}
	}
	writeJSON(w, http.StatusOK, unitsResponse{ScoredAt: snap.ScoredAt, Units: snap.UnitsAtLeast(level)})
}

func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	id := r.PathValue("unit")
	u, found := snap.Unit(id)
	if !found {
		writeError(w, http.StatusNotFound, "unit "+id+" has no active events")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUnitEvents(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.UnitEvents(r.PathValue("unit"), s.clock.Now()))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if snap, ok := s.snapshot(w); ok {
		writeJSON(w, http.StatusOK, snap.Stats)
	}
}

func (s *Server) handleResolved(w http.ResponseWriter, _ *http.Request) {
	if snap, ok := s.snapshot(w); ok {
		resolved := snap.Resolved
		if resolved == nil {
			resolved = []domain.ResolvedUnit{}
		}
		writeJSON(w, http.StatusOK, resolved)
	}
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	if snap, ok := s.snapshot(w); ok {
		writeJSON(w, http.StatusOK, snap.Sources)
	}
}

func (s *Server) snapshot(w http.ResponseWriter) (*pipeline.Snapshot, bool) {
	snap := s.source.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no scoring output yet")
		return nil, false
	}
	return snap, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
