package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/campusware/rollcall/internal/web/handlers"
	"github.com/campusware/rollcall/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.deps.Engine, s.deps.Store, s.deps.Cache, s.deps.Events)
	scanHandler := handlers.NewScanHandler(s.deps.Scanner, s.deps.Log)
	registerHandler := handlers.NewRegisterHandler(s.deps.Registrar, s.deps.Log)
	livenessHandler := handlers.NewLivenessHandler(s.deps.Engine, s.deps.Liveness, s.deps.Log)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Store, s.deps.Cache, s.deps.Identities, s.deps.Mirror, s.deps.Log)
	liveHandler := handlers.NewLiveHandler(s.deps.Live, s.deps.Log)
	eventsHandler := handlers.NewEventsHandler(s.deps.Events, s.deps.Log)
	disputesHandler := handlers.NewDisputesHandler(s.deps.Disputes, s.deps.Events, s.deps.Log)
	statsHandler := handlers.NewStatsHandler(s.deps.Engine, s.deps.Store, s.deps.Cache, s.deps.Live, s.deps.Events, s.deps.Disputes, s.deps.Mirror, s.deps.Log)

	// Health check (no key required)
	s.router.Get("/api/v1/health", healthHandler.Get)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireKey(s.apiKey))

			// Attendance
			r.Post("/scan", scanHandler.Scan)
			r.Post("/register", registerHandler.Register)
			r.Post("/liveness/challenge", livenessHandler.Challenge)

			// Identities
			r.Get("/identities", identitiesHandler.List)
			r.Delete("/identities/{id}", identitiesHandler.Delete)
			r.Get("/identities/{id}/similar", identitiesHandler.Similar)

			// Live sessions
			r.Post("/live/sessions", liveHandler.Create)
			r.Get("/live/sessions/{id}", liveHandler.Get)
			r.Post("/live/sessions/{id}/frames", liveHandler.Frame)
			r.Delete("/live/sessions/{id}", liveHandler.Delete)

			// Audit events
			r.Get("/events", eventsHandler.List)
			r.Get("/events/{id}/similar", eventsHandler.Similar)

			// Disputes
			r.Post("/disputes", disputesHandler.Open)
			r.Get("/disputes", disputesHandler.List)
			r.Patch("/disputes/{id}", disputesHandler.Resolve)

			// Stats
			r.Get("/stats", statsHandler.Get)
		})
	})
}
