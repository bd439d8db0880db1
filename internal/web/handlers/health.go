package handlers

import (
	"net/http"

	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/store"
)

// HealthHandler reports service readiness.
type HealthHandler struct {
	engine pipeline.Engine
	store  *store.Store
	cache  *gallery.Cache
	events database.EventStore
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(engine pipeline.Engine, st *store.Store, cache *gallery.Cache, events database.EventStore) *HealthHandler {
	return &HealthHandler{engine: engine, store: st, cache: cache, events: events}
}

// HealthResponse is the health check payload. EngineMode surfaces the
// capability level the service came up with, which operators watch for
// silent downgrades to the local fallback.
type HealthResponse struct {
	Status      string `json:"status"`
	EngineMode  string `json:"engine_mode"`
	GalleryRows int    `json:"gallery_rows"`
	Identities  int    `json:"identities"`
	Audit       bool   `json:"audit"`
}

// Get handles the health check endpoint.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		EngineMode: h.engine.Mode(),
		Audit:      h.events != nil,
	}

	if g, err := h.cache.Get(h.store); err == nil {
		resp.GalleryRows = g.Len()
	} else {
		resp.Status = "degraded"
	}
	if ids, err := h.store.Identities(); err == nil {
		resp.Identities = len(ids)
	}

	respondJSON(w, http.StatusOK, resp)
}
