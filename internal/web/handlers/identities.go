package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/attendance"
	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/match"
	"github.com/campusware/rollcall/internal/store"
)

const defaultSimilarLimit = 5

// similarShortlistCutoff is the gallery size above which Similar retrieves
// candidates through the HNSW side index instead of scanning every row.
const similarShortlistCutoff = 4096

// IdentitiesHandler manages enrolled identities.
type IdentitiesHandler struct {
	store      *store.Store
	cache      *gallery.Cache
	identities database.IdentityStore
	mirror     database.MirrorStore
	log        *zap.Logger
}

// NewIdentitiesHandler creates a new identities handler. The database
// stores may be nil when the service runs without an audit database.
func NewIdentitiesHandler(st *store.Store, cache *gallery.Cache, identities database.IdentityStore, mirror database.MirrorStore, log *zap.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{store: st, cache: cache, identities: identities, mirror: mirror, log: log}
}

// IdentitySummary is one enrolled identity with its captured views.
type IdentitySummary struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	ExternalRef string   `json:"external_ref,omitempty"`
	Views       []string `json:"views"`
	Complete    bool     `json:"complete"`
}

// List returns every enrolled identity with enrollment progress.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.Identities()
	if err != nil {
		h.log.Error("identity listing failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "identity listing failed")
		return
	}

	records := make(map[string]database.Identity)
	if h.identities != nil {
		list, err := h.identities.List(r.Context())
		if err != nil {
			h.log.Warn("identity records unavailable", zap.Error(err))
		}
		for _, identity := range list {
			records[identity.ID] = identity
		}
	}

	summaries := make([]IdentitySummary, 0, len(ids))
	for _, id := range ids {
		views, err := h.store.Views(id)
		if err != nil {
			h.log.Warn("skipping unreadable identity", zap.String("identity", id), zap.Error(err))
			continue
		}
		summary := IdentitySummary{
			ID:       id,
			Views:    views,
			Complete: len(views) == len(attendance.Views),
		}
		if record, ok := records[id]; ok {
			summary.DisplayName = record.DisplayName
			summary.ExternalRef = record.ExternalRef
		}
		summaries = append(summaries, summary)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"identities": summaries,
		"count":      len(summaries),
	})
}

// Delete removes an identity's embeddings and crops, plus its audit rows
// when a database is attached.
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.store.Delete(id)
	if err != nil {
		h.log.Error("identity delete failed", zap.String("identity", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "identity delete failed")
		return
	}
	if result.EmbeddingFiles == 0 && result.ImageFiles == 0 {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}

	if h.identities != nil {
		if err := h.identities.Delete(r.Context(), id); err != nil {
			h.log.Warn("identity record not removed", zap.String("identity", id), zap.Error(err))
		}
	}
	if h.mirror != nil {
		if err := h.mirror.DeleteMirror(r.Context(), id); err != nil {
			h.log.Warn("mirror rows not removed", zap.String("identity", id), zap.Error(err))
		}
	}

	h.log.Info("identity deleted", zap.String("identity", id))
	respondJSON(w, http.StatusOK, result)
}

// Similar ranks other enrolled identities against the centroid of the
// requested identity's samples. Useful when hunting lookalike enrollments.
func (h *IdentitiesHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := defaultSimilarLimit
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		limit = n
	}

	g, err := h.cache.Get(h.store)
	if err != nil {
		h.log.Error("gallery load failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "gallery load failed")
		return
	}

	probe, own := centroidOf(g, id)
	if own == 0 {
		respondError(w, http.StatusNotFound, "identity not enrolled")
		return
	}

	results := similarCandidates(g, probe, limit+own)
	similar := make([]match.Result, 0, limit)
	for _, res := range results {
		if res.Identity == id {
			continue
		}
		similar = append(similar, res)
		if len(similar) == limit {
			break
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"identity": id,
		"similar":  similar,
	})
}

// similarCandidates returns the k best rows for the lookalike query. Small
// galleries are ranked exactly; past the cutoff the HNSW shortlist stands in,
// with similarities recomputed from the stored vectors.
func similarCandidates(g *gallery.Gallery, probe []float32, k int) []match.Result {
	if g.Len() <= similarShortlistCutoff {
		return match.TopK(g, probe, k)
	}
	results := make([]match.Result, 0, k)
	for _, n := range g.Neighbors(probe, k) {
		results = append(results, match.Result{Identity: n.Identity, View: n.View, Similarity: n.Similarity})
	}
	return results
}

// centroidOf averages an identity's gallery vectors. The matcher normalizes
// probes, so the mean does not need renormalizing here.
func centroidOf(g *gallery.Gallery, id string) ([]float32, int) {
	var (
		sum   []float32
		count int
	)
	for _, e := range g.Entries {
		if e.Identity != id {
			continue
		}
		if sum == nil {
			sum = make([]float32, len(e.Vector))
		}
		for i, v := range e.Vector {
			sum[i] += v
		}
		count++
	}
	if count == 0 {
		return nil, 0
	}
	for i := range sum {
		sum[i] /= float32(count)
	}
	return sum, count
}
