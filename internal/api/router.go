package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

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
		r.Get("/health", s.handleHealth)

		// Provisioning token lifecycle
		r.Route("/provision/tokens", func(r chi.Router) {
			r.Post("/", s.handleIssueToken)
			r.Get("/", s.handleListTokens)

			r.Route("/{token}", func(r chi.Router) {
				r.Get("/", s.handleGetToken)
				r.Post("/cancel", s.handleCancelToken)
				r.Delete("/", s.handleDeleteToken)
				r.Get("/logs", s.handleTokenLogs)
			})
		})

		// Simulator fleet control
		r.Route("/fleet/simulators", func(r chi.Router) {
			r.Post("/", s.handleCreateSimulator)
			r.Get("/", s.handleListSimulators)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/command", s.handleSimulatorCommand)
				r.Delete("/", s.handleDeleteSimulator)
			})
		})

		// WebSocket event stream
		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath returns the configured WebSocket mount point under /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path != "" {
		return s.wsCfg.Path
	}
	return "/ws"
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"site":    s.site,
	})
}
