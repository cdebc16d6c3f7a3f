package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database check made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Monitoring (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Script execution. authMiddleware attaches the caller principal
		// and enforces security.require_auth.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/scripts/run", s.handleRunScript)
			r.Get("/console", s.handleConsole)
		})
	})

	return r
}

// handleHealth returns the server health status. The database check waits
// for the shared session, so a long-running statement shows up as a slow
// health check rather than a failure.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	dbStatus := "unknown"

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			status, code, dbStatus = "degraded", http.StatusServiceUnavailable, "error"
		} else {
			dbStatus = "ok"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":   status,
		"database": dbStatus,
		"version":  s.version,
	})
}
