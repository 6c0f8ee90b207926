package api

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency probe in /api/v1/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// CDK channels
	r.Post("/sync", s.handleSync)
	r.Get(s.asyncPath(), s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/state", s.handleGetState)
		r.Post("/barrier/open", s.handleOpenBarrier)
		r.Post("/barrier/close", s.handleCloseBarrier)
		r.Get("/simulation", s.handleGetSimulation)
		r.Put("/simulation", s.handlePutSimulation)
		r.Get("/generator", s.handleGetGenerator)
		r.Post("/generator", s.handleSetGenerator)
		r.Get("/triggers/{id}", s.handleGetTrigger)
		r.Get("/journal", s.handleJournal)
		r.Get("/commands", s.handleCommands)
	})

	return r
}

func (s *Server) asyncPath() string {
	if s.wsCfg.Path == "" {
		return "/async"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health and the state of optional
// dependencies. A failing dependency degrades the status but keeps 200:
// the simulator itself is still serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := make(map[string]string, len(s.checks))

	for _, name := range slices.Sorted(maps.Keys(s.checks)) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"version":      s.version,
		"subscribers":  s.broadcaster.Len(),
		"ws_clients":   s.hub.ClientCount(),
		"dependencies": deps,
	})
}
