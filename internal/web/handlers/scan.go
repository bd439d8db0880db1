package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/attendance"
)

// ScanHandler handles attendance scans.
type ScanHandler struct {
	scanner *attendance.Scanner
	log     *zap.Logger
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(scanner *attendance.Scanner, log *zap.Logger) *ScanHandler {
	return &ScanHandler{scanner: scanner, log: log}
}

type scanRequest struct {
	Image      string `json:"image"`
	SessionKey string `json:"session_key"`
	Debug      bool   `json:"debug"`
}

// Scan runs one capture through the attendance pipeline. Gate misses come
// back as 200 responses with a skip reason; only system faults are errors.
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
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

	result, err := h.scanner.Scan(r.Context(), attendance.ScanRequest{
		Image:      data,
		SessionKey: req.SessionKey,
		Debug:      req.Debug,
	})
	if err != nil {
		h.log.Error("scan failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
