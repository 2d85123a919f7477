// Package httpapi exposes the daemon's introspection surface: health,
// sync status, and a trigger endpoint for an immediate pass.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/erauner12/trendy-sync/internal/syncengine"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Engine is the part of the sync coordinator the HTTP surface needs.
type Engine interface {
	Sync(ctx context.Context) (*syncengine.Report, error)
	Status(ctx context.Context) (*syncengine.Status, error)
	IsSyncing() bool
	ResetBreaker()
}

// Server holds dependencies for HTTP handlers
type Server struct {
	Engine Engine
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

type errorResp struct {
	Error string `json:"error"`
}

// Routes creates the HTTP router for the status server
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	r.Get("/v1/status", s.GetStatus)
	r.Post("/v1/sync", s.TriggerSync)
	r.Post("/v1/breaker/reset", s.ResetBreaker)

	log.Info().Msg("HTTP routes registered")
	return r
}

// GetStatus reports the engine's introspection snapshot.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Engine.Status(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to assemble sync status")
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "failed to read sync state"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// TriggerSync runs one sync pass and reports its outcome. A pass
// already in flight yields 202 rather than a second pass.
func (s *Server) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.Engine.IsSyncing() {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync already in progress"})
		return
	}

	report, err := s.Engine.Sync(r.Context())
	if err != nil {
		logger := log.Ctx(r.Context())

		var breakerErr syncengine.BreakerOpenError
		if errors.As(err, &breakerErr) {
			writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: breakerErr.Error()})
			return
		}
		if errors.Is(err, syncengine.ErrSyncInProgress) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync already in progress"})
			return
		}
		var healthErr syncengine.HealthCheckError
		if errors.As(err, &healthErr) {
			writeJSON(w, http.StatusBadGateway, errorResp{Error: healthErr.Error()})
			return
		}

		logger.Error().Err(err).Msg("sync pass failed")
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ResetBreaker clears the circuit breaker, an operator escape hatch
// after a server-side incident is resolved.
func (s *Server) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	s.Engine.ResetBreaker()
	log.Ctx(r.Context()).Info().Msg("circuit breaker reset via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "breaker reset"})
}
