package liveness

import (
	"image"

	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/pipeline"
)

// Frame is one burst capture for the head-turn challenge. The image is
// optional; when present it feeds the replay guard.
type Frame struct {
	Image image.Image
	Face  pipeline.Face
}

// ChallengeDetails are the position flags derived from the nose ratios.
type ChallengeDetails struct {
	Left   bool `json:"left"`
	Right  bool `json:"right"`
	Center bool `json:"center"`
}

// ChallengeVerdict is the multi-frame decision. OK false means the input
// could not be evaluated (no frames, no landmarks, unknown challenge);
// Reason says why.
type ChallengeVerdict struct {
	OK        bool             `json:"ok"`
	Pass      bool             `json:"pass"`
	Challenge string           `json:"challenge"`
	Reason    string           `json:"reason,omitempty"`
	Ratios    []float64        `json:"ratios,omitempty"`
	Details   ChallengeDetails `json:"details"`
}

// EvaluateChallenge verifies head motion across an ordered burst of frames.
// Per frame the nose position is reduced to a ratio across the face box;
// the burst passes when the ratios visit the positions the challenge asks
// for: turn_left needs left and center, turn_right needs right and center,
// left_right needs all three. Frames without a usable nose landmark are
// dropped, and consecutive byte-identical captures collapse to one so a
// wiggled photo print cannot vote twice.
func EvaluateChallenge(frames []Frame, challenge string, cfg Config) ChallengeVerdict {
	cfg = cfg.withDefaults()
	shift := cfg.ChallengeShift

	verdict := ChallengeVerdict{Challenge: challenge}
	if len(frames) == 0 {
		verdict.Reason = ReasonNoFrames
		return verdict
	}

	verdict.Ratios = noseRatios(collapseReplays(frames))
	if len(verdict.Ratios) < 2 {
		verdict.Reason = ReasonNoLandmarks
		return verdict
	}

	for _, r := range verdict.Ratios {
		if r <= 0.5-shift {
			verdict.Details.Left = true
		}
		if r >= 0.5+shift {
			verdict.Details.Right = true
		}
		if r >= 0.5-shift && r <= 0.5+shift {
			verdict.Details.Center = true
		}
	}

	switch challenge {
	case ChallengeTurnLeft:
		verdict.Pass = verdict.Details.Left && verdict.Details.Center
	case ChallengeTurnRight:
		verdict.Pass = verdict.Details.Right && verdict.Details.Center
	case ChallengeLeftRight:
		verdict.Pass = verdict.Details.Left && verdict.Details.Right && verdict.Details.Center
	default:
		verdict.Reason = ReasonInvalidChallenge
		return verdict
	}

	verdict.OK = true
	return verdict
}

// collapseReplays drops frames whose image hashes identically to the
// previous kept frame. Frames without images cannot be compared and always
// survive.
func collapseReplays(frames []Frame) []Frame {
	kept := make([]Frame, 0, len(frames))
	var prev imaging.Fingerprint
	havePrev := false

	for _, f := range frames {
		if f.Image == nil {
			kept = append(kept, f)
			havePrev = false
			continue
		}
		fp := imaging.Hash(f.Image)
		if havePrev && imaging.Identical(prev, fp) {
			continue
		}
		kept = append(kept, f)
		prev = fp
		havePrev = true
	}
	return kept
}

// noseRatios extracts the horizontal nose position per frame, normalized
// across the face box. Frames lacking a nose landmark or a usable box are
// skipped.
func noseRatios(frames []Frame) []float64 {
	var ratios []float64
	for _, f := range frames {
		if len(f.Face.Landmarks) <= pipeline.LandmarkNose {
			continue
		}
		width := f.Face.Box.Width()
		if width <= 0 {
			continue
		}
		nose := f.Face.Landmarks[pipeline.LandmarkNose]
		ratios = append(ratios, float64(nose.X-f.Face.Box.X1)/float64(width))
	}
	return ratios
}
