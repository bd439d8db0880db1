package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/attendance"
)

// RegisterHandler handles face enrollment.
type RegisterHandler struct {
	registrar *attendance.Registrar
	log       *zap.Logger
}

// NewRegisterHandler creates a new register handler.
func NewRegisterHandler(registrar *attendance.Registrar, log *zap.Logger) *RegisterHandler {
	return &RegisterHandler{registrar: registrar, log: log}
}

type registerRequest struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	View        string `json:"view"`
	Image       string `json:"image"`
	Overwrite   bool   `json:"overwrite"`
}

// Register enrolls one capture for an (identity, view) slot.
func (h *RegisterHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
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

	result, err := h.registrar.Register(r.Context(), attendance.RegisterRequest{
		Identity:    req.Identity,
		DisplayName: req.DisplayName,
		View:        req.View,
		Image:       data,
		Overwrite:   req.Overwrite,
	})
	if err != nil {
		status := registerStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error("registration failed", zap.Error(err))
			respondError(w, status, "registration failed")
			return
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// registerStatus maps registrar gate errors onto HTTP status codes. Anything
// unrecognized is a server fault.
func registerStatus(err error) int {
	switch {
	case errors.Is(err, attendance.ErrInvalidIdentity),
		errors.Is(err, attendance.ErrInvalidView),
		errors.Is(err, attendance.ErrBadImage):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrNoFaceDetected),
		errors.Is(err, attendance.ErrMultipleFaces),
		errors.Is(err, attendance.ErrLowQuality),
		errors.Is(err, attendance.ErrLivenessFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrViewExists),
		errors.Is(err, attendance.ErrDuplicateCapture):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
