package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes (spec §6's route table).
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Post("/{sessionID}/reset", s.resetSession)
			r.Delete("/{sessionID}", s.deleteSession)
		})

		r.Post("/chat", s.chat)
		r.Get("/artifacts", s.artifactHandler())

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/{approvalID}", s.decideApproval)
		})
	})
}
