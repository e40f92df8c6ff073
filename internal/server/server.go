// Package server provides the HTTP surface over an App: session CRUD,
// task-status polling, autonomous-mode control, and the multiplexed
// WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/super-agent/runtime/internal/app"
	"github.com/super-agent/runtime/internal/multiplex"
	"github.com/super-agent/runtime/internal/sessionmgr"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no write timeout: /ws holds a long-lived connection
	}
}

// Server is the HTTP server. It owns no state of its own; every operation
// it exposes delegates straight to App's components.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server

	app      *app.App
	sessions *sessionmgr.Manager
	hub      *multiplex.Hub
}

// New creates a Server wired to a fully-constructed App. sessions is the
// SessionManager driving streamed turns; hub is the Multiplexer serving
// /ws.
func New(cfg *Config, a *app.App, sessions *sessionmgr.Manager, hub *multiplex.Hub) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		router:   r,
		app:      a,
		sessions: sessions,
		hub:      hub,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
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

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// acceptWebSocket upgrades the connection and hands it to the Multiplexer.
func (s *Server) acceptWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local/dev use; a reverse proxy terminates TLS in production
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	if err := s.hub.Serve(r.Context(), ws); err != nil {
		ws.Close(websocket.StatusNormalClosure, "")
	}
}
