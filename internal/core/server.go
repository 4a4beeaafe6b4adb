// Package core provides the API chassis for the ClipVault service: a chi
// router with the cross-cutting middleware chain (panic recovery, request
// timeouts, request IDs, structured request logging) and the standard JSON
// response envelope used by all handlers.
package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server holds the router and the dependencies shared by all handlers.
type Server struct {
	Logger *slog.Logger

	requestTimeout time.Duration
	router         *chi.Mux
}

// NewServer creates a Server and registers the global middleware chain.
// Routes are mounted by the caller afterwards.
func NewServer(logger *slog.Logger, requestTimeout time.Duration) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if requestTimeout <= 0 {
		requestTimeout = 29 * time.Second
	}

	s := &Server{
		Logger:         logger,
		requestTimeout: requestTimeout,
		router:         chi.NewRouter(),
	}

	// Strict order: recovery outermost, then deadline, then correlation ID,
	// then logging.
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// HandleHealth is a liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
