package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/database"
)

// DisputesHandler manages contested attendance events.
type DisputesHandler struct {
	disputes database.DisputeStore
	events   database.EventStore
	log      *zap.Logger
}

// NewDisputesHandler creates a new disputes handler.
func NewDisputesHandler(disputes database.DisputeStore, events database.EventStore, log *zap.Logger) *DisputesHandler {
	return &DisputesHandler{disputes: disputes, events: events, log: log}
}

func (h *DisputesHandler) available(w http.ResponseWriter) bool {
	if h.disputes == nil {
		respondError(w, http.StatusServiceUnavailable, "audit database not configured")
		return false
	}
	return true
}

type openDisputeRequest struct {
	EventID  int64  `json:"event_id"`
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// Open files a dispute against an attendance event.
func (h *DisputesHandler) Open(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	var req openDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.EventID <= 0 {
		respondError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	if req.Identity == "" {
		respondError(w, http.StatusBadRequest, "identity is required")
		return
	}

	if h.events != nil {
		event, err := h.events.Get(r.Context(), req.EventID)
		if err != nil {
			h.log.Error("event lookup failed", zap.Int64("event_id", req.EventID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "event lookup failed")
			return
		}
		if event == nil {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
	}

	dispute := &database.Dispute{
		EventID:  req.EventID,
		Identity: req.Identity,
		Reason:   req.Reason,
	}
	if err := h.disputes.Open(r.Context(), dispute); err != nil {
		h.log.Error("dispute not filed", zap.Int64("event_id", req.EventID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "dispute not filed")
		return
	}

	h.log.Info("dispute opened",
		zap.Int64("dispute_id", dispute.ID),
		zap.Int64("event_id", req.EventID),
		zap.String("identity", req.Identity))
	respondJSON(w, http.StatusCreated, dispute)
}

// List returns disputes, optionally filtered by ?status=.
func (h *DisputesHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", database.DisputeOpen, database.DisputeApproved, database.DisputeRejected:
	default:
		respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	disputes, err := h.disputes.List(r.Context(), status)
	if err != nil {
		h.log.Error("dispute listing failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "dispute listing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

type resolveDisputeRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
}

// Resolve closes an open dispute as approved or rejected.
func (h *DisputesHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid dispute id")
		return
	}

	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Status != database.DisputeApproved && req.Status != database.DisputeRejected {
		respondError(w, http.StatusBadRequest, "status must be approved or rejected")
		return
	}

	existing, err := h.disputes.Get(r.Context(), id)
	if err != nil {
		h.log.Error("dispute lookup failed", zap.Int64("dispute_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "dispute lookup failed")
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, "dispute not found")
		return
	}

	if err := h.disputes.Resolve(r.Context(), id, req.Status, req.Resolution); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	resolved, err := h.disputes.Get(r.Context(), id)
	if err != nil || resolved == nil {
		h.log.Warn("resolved dispute reload failed", zap.Int64("dispute_id", id), zap.Error(err))
		respondJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
		return
	}

	h.log.Info("dispute resolved",
		zap.Int64("dispute_id", id),
		zap.String("status", req.Status))
	respondJSON(w, http.StatusOK, resolved)
}
