// Package server provides the HTTP server for the ECLIA gateway API (spec
// §6): session management, the chat SSE stream, artifact serving, and
// approval decisions, all behind an optional bearer-token middleware.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eclia/gateway/internal/approval"
	"github.com/eclia/gateway/internal/artifact"
	"github.com/eclia/gateway/internal/orchestrator"
	"github.com/eclia/gateway/internal/sessionlock"
	"github.com/eclia/gateway/internal/store"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Root         string
	GatewayToken string // empty disables the bearer-token check
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DeleteLockWait bounds how long DELETE /api/sessions/{id} waits for the
	// session lock to free up before reporting session_in_use.
	DeleteLockWait time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		EnableCORS:     true,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   0, // no write timeout: chat responses are long-lived SSE streams
		DeleteLockWait: 50 * time.Millisecond,
	}
}

// Server is the HTTP server.
type Server struct {
	config       *Config
	router       *chi.Mux
	httpSrv      *http.Server
	store        *store.Store
	locks        *sessionlock.Table
	approvals    *approval.Hub
	orchestrator *orchestrator.Orchestrator
}

// New creates a new Server instance, wiring all routes.
func New(cfg *Config, st *store.Store, locks *sessionlock.Table, approvals *approval.Hub, orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		config:       cfg,
		router:       chi.NewRouter(),
		store:        st,
		locks:        locks,
		approvals:    approvals,
		orchestrator: orch,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.bearerAuth)
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// artifactHandler exposes artifact.Handler bound to the server's root, used
// directly by setupRoutes.
func (s *Server) artifactHandler() http.HandlerFunc {
	return artifact.Handler(s.config.Root)
}
