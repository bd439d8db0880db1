package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/attendance"
	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/live"
	"github.com/campusware/rollcall/internal/liveness"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/store"
	"github.com/campusware/rollcall/internal/web/middleware"
)

// Deps are the long-lived components the API serves. The database stores
// are optional; handlers that need them answer 503 when they are nil.
type Deps struct {
	Engine     pipeline.Engine
	Store      *store.Store
	Cache      *gallery.Cache
	Scanner    *attendance.Scanner
	Registrar  *attendance.Registrar
	Live       *live.Manager
	Liveness   liveness.Config
	Identities database.IdentityStore
	Events     database.EventStore
	Disputes   database.DisputeStore
	Mirror     database.MirrorStore
	Log        *zap.Logger
}

// Server is the HTTP front of the attendance service.
type Server struct {
	deps       Deps
	apiKey     string
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a web server. An empty apiKey leaves the API open.
func NewServer(deps Deps, host string, port int, apiKey string) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	r := chi.NewRouter()
	s := &Server{deps: deps, apiKey: apiKey, router: r}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.deps.Log.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
