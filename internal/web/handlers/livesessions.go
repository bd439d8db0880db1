package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/live"
)

// LiveHandler manages continuous recognition sessions.
type LiveHandler struct {
	manager *live.Manager
	log     *zap.Logger
}

// NewLiveHandler creates a new live session handler.
func NewLiveHandler(manager *live.Manager, log *zap.Logger) *LiveHandler {
	return &LiveHandler{manager: manager, log: log}
}

type createSessionRequest struct {
	SessionKey string `json:"session_key"`
}

// Create starts a session. The body is optional; a session key groups the
// attendance events the session produces.
func (h *LiveHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	respondJSON(w, http.StatusCreated, h.manager.Create(req.SessionKey))
}

type frameRequest struct {
	Image string `json:"image"`
}

// Frame feeds one camera frame into a session.
func (h *LiveHandler) Frame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Image == "" {
		respondError(w, http.StatusBadRequest, "image is required")
		return
	}
	data, err := decodeImage(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "image is not valid base64")
		return
	}
	if _, err := imaging.Decode(data); err != nil {
		respondError(w, http.StatusBadRequest, "image is not a decodable image")
		return
	}

	result, err := h.manager.ProcessFrame(r.Context(), id, data)
	if errors.Is(err, live.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.log.Error("frame processing failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "frame processing failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Get returns the session snapshot with everything marked so far.
func (h *LiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.manager.Get(chi.URLParam(r, "id"))
	if errors.Is(err, live.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// Delete ends a session.
func (h *LiveHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.manager.Delete(chi.URLParam(r, "id"))
	respondJSON(w, http.StatusNoContent, nil)
}
