package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/database"
)

const defaultSimilarEvents = 10

// EventsHandler serves the attendance audit trail.
type EventsHandler struct {
	events database.EventStore
	log    *zap.Logger
}

// NewEventsHandler creates a new events handler. A nil store means the
// service runs without an audit database; every route then returns 503.
func NewEventsHandler(events database.EventStore, log *zap.Logger) *EventsHandler {
	return &EventsHandler{events: events, log: log}
}

func (h *EventsHandler) available(w http.ResponseWriter) bool {
	if h.events == nil {
		respondError(w, http.StatusServiceUnavailable, "audit database not configured")
		return false
	}
	return true
}

// List returns attendance events, newest first. Supported query parameters:
// identity, session_key, since (RFC 3339) and limit.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	filter := database.EventFilter{
		Identity:   r.URL.Query().Get("identity"),
		SessionKey: r.URL.Query().Get("session_key"),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.log.Error("event listing failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "event listing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// SimilarEvent pairs an event with its cosine distance to the probe.
type SimilarEvent struct {
	database.AttendanceEvent
	Distance float64 `json:"distance"`
}

// Similar finds events whose stored probe embeddings are closest to the
// probe of the given event. This is the forensic query behind dispute
// review: it answers who else produced near-identical captures.
func (h *EventsHandler) Similar(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	limit := defaultSimilarEvents
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	probe, err := h.events.ProbeEmbedding(r.Context(), id)
	if err != nil {
		h.log.Error("probe lookup failed", zap.Int64("event_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "probe lookup failed")
		return
	}
	if probe == nil {
		respondError(w, http.StatusNotFound, "event has no stored probe")
		return
	}

	events, distances, err := h.events.FindSimilar(r.Context(), probe, limit)
	if err != nil {
		h.log.Error("similarity query failed", zap.Int64("event_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "similarity query failed")
		return
	}

	similar := make([]SimilarEvent, len(events))
	for i := range events {
		similar[i] = SimilarEvent{AttendanceEvent: events[i], Distance: distances[i]}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"event_id": id,
		"similar":  similar,
	})
}
