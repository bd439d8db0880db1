package handlers

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/live"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/store"
)

const statsCacheTTL = time.Minute

// statsCache holds cached stats with expiry. The store walk and the count
// queries are cheap individually but the stats endpoint tends to get polled.
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

// StatsHandler reports service-wide statistics.
type StatsHandler struct {
	engine   pipeline.Engine
	store    *store.Store
	cache    *gallery.Cache
	live     *live.Manager
	events   database.EventStore
	disputes database.DisputeStore
	mirror   database.MirrorStore
	log      *zap.Logger

	stats statsCache
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(engine pipeline.Engine, st *store.Store, cache *gallery.Cache, manager *live.Manager, events database.EventStore, disputes database.DisputeStore, mirror database.MirrorStore, log *zap.Logger) *StatsHandler {
	return &StatsHandler{
		engine:   engine,
		store:    st,
		cache:    cache,
		live:     manager,
		events:   events,
		disputes: disputes,
		mirror:   mirror,
		log:      log,
	}
}

// StatsResponse summarizes enrollment and audit state.
type StatsResponse struct {
	Identities      int    `json:"identities"`
	Slots           int    `json:"slots"`
	Samples         int    `json:"samples"`
	GalleryRows     int    `json:"gallery_rows"`
	EngineMode      string `json:"engine_mode"`
	LiveSessions    int    `json:"live_sessions"`
	Events          int    `json:"events"`
	OpenDisputes    int    `json:"open_disputes"`
	MirroredSamples int    `json:"mirrored_samples"`
}

// Get returns statistics about enrollment, the gallery and the audit trail.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.stats.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	storeStats, err := h.store.Stat()
	if err != nil {
		h.log.Error("store stats failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "store stats failed")
		return
	}

	stats := &StatsResponse{
		Identities: storeStats.Identities,
		Slots:      storeStats.Slots,
		Samples:    storeStats.Samples,
		EngineMode: h.engine.Mode(),
	}
	if g, err := h.cache.Get(h.store); err == nil {
		stats.GalleryRows = g.Len()
	}
	if h.live != nil {
		stats.LiveSessions = h.live.Count()
	}
	if h.events != nil {
		if count, err := h.events.Count(r.Context()); err == nil {
			stats.Events = count
		}
	}
	if h.disputes != nil {
		if open, err := h.disputes.List(r.Context(), database.DisputeOpen); err == nil {
			stats.OpenDisputes = len(open)
		}
	}
	if h.mirror != nil {
		if count, err := h.mirror.CountMirror(r.Context()); err == nil {
			stats.MirroredSamples = count
		}
	}

	h.stats.set(stats)
	respondJSON(w, http.StatusOK, stats)
}
