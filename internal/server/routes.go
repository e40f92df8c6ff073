package server

import "github.com/go-chi/chi/v5"

// setupRoutes wires the HTTP surface table.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/healthz", s.healthz)
	r.Get("/ws", s.acceptWebSocket)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Get("/", s.listSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Get("/status", s.getSessionStatus)
			r.Post("/mark-viewed", s.markViewed)
			r.Post("/interrupt", s.interruptSession)
		})
	})

	r.Route("/autonomous/sessions", func(r chi.Router) {
		r.Post("/", s.createAutonomousSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getAutonomousSession)
			r.Post("/run", s.runAutonomousSession)
			r.Post("/run-once", s.runAutonomousSessionOnce)
		})
	})
}
