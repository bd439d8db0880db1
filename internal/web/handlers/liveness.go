package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/liveness"
	"github.com/campusware/rollcall/internal/pipeline"
)

// LivenessHandler evaluates head-turn challenges over frame bursts.
type LivenessHandler struct {
	engine pipeline.Engine
	cfg    liveness.Config
	log    *zap.Logger
}

// NewLivenessHandler creates a new liveness handler.
func NewLivenessHandler(engine pipeline.Engine, cfg liveness.Config, log *zap.Logger) *LivenessHandler {
	return &LivenessHandler{engine: engine, cfg: cfg, log: log}
}

type challengeRequest struct {
	Images    []string `json:"images"`
	Challenge string   `json:"challenge"`
}

// Challenge runs face detection over an ordered burst of captures and
// verifies the requested head motion. Frames where no face is found still
// enter the burst so the replay guard sees every capture.
func (h *LivenessHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Images) == 0 {
		respondError(w, http.StatusBadRequest, "images are required")
		return
	}

	frames := make([]liveness.Frame, 0, len(req.Images))
	for i, payload := range req.Images {
		data, err := decodeImage(payload)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("images[%d] is not valid base64", i))
			return
		}
		img, err := imaging.Decode(data)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("images[%d] is not a decodable image", i))
			return
		}

		frame := liveness.Frame{Image: img}
		faces, err := h.engine.Detect(r.Context(), img)
		if err != nil {
			h.log.Error("challenge detection failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "face detection failed")
			return
		}
		if face, ok := pipeline.BestFace(faces); ok {
			frame.Face = face
		}
		frames = append(frames, frame)
	}

	verdict := liveness.EvaluateChallenge(frames, req.Challenge, h.cfg)
	respondJSON(w, http.StatusOK, verdict)
}
