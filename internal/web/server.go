package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/document"
	"github.com/andresmejia3/gatekeeper/internal/gate"
	"github.com/andresmejia3/gatekeeper/internal/matcher"
	"github.com/andresmejia3/gatekeeper/internal/source"
	"github.com/andresmejia3/gatekeeper/internal/stream"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Deps are the components the HTTP surface is built on.
type Deps struct {
	Matcher  *matcher.Matcher
	Gate     *gate.Gate
	Renderer stream.Renderer

	Documents     *document.Store
	DocumentName  string
	ServeDocument bool

	// OpenCamera opens a fresh frame source per /video_feed request.
	OpenCamera func(ctx context.Context) (source.Source, error)

	Now func() time.Time
	Log *slog.Logger
}

// Server represents the web server
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer creates a new web server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	r := chi.NewRouter()

	s := &Server{
		deps:   deps,
		router: r,
		log:    deps.Log,
	}

	// No Timeout middleware: /video_feed is an open-ended stream.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
