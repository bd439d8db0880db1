// Package liveness scores how likely a captured face is a live in-person
// subject rather than a flat photo. The single-frame check is a composite
// heuristic over face size, eye geometry and sharpness; the multi-frame
// challenge verifies head motion across a short burst. Neither is
// cryptographic or learned, and both fail closed when the engine provides
// no landmarks.
package liveness

import (
	"image"
	"math"

	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/quality"
)

// Defaults for Config fields left at zero.
const (
	DefaultMinScore        = 0.67
	DefaultMinFaceRatio    = 0.03
	DefaultMinEyeDistRatio = 0.25
	DefaultChallengeShift  = 0.08
)

// Challenge types accepted by EvaluateChallenge.
const (
	ChallengeTurnLeft  = "turn_left"
	ChallengeTurnRight = "turn_right"
	ChallengeLeftRight = "left_right"
)

// Failure reasons carried in verdicts.
const (
	ReasonNoLandmarks      = "no_landmarks"
	ReasonInvalidBox       = "invalid_box"
	ReasonNoFrames         = "no_frames"
	ReasonInvalidChallenge = "invalid_challenge"
)

// Config holds the liveness thresholds. Zero fields take the package
// defaults, so the zero value is usable.
type Config struct {
	MinScore        float64
	MinFaceRatio    float64
	MinEyeDistRatio float64
	BlurThreshold   float64
	ChallengeShift  float64
}

func (c Config) withDefaults() Config {
	if c.MinScore <= 0 {
		c.MinScore = DefaultMinScore
	}
	if c.MinFaceRatio <= 0 {
		c.MinFaceRatio = DefaultMinFaceRatio
	}
	if c.MinEyeDistRatio <= 0 {
		c.MinEyeDistRatio = DefaultMinEyeDistRatio
	}
	if c.BlurThreshold <= 0 {
		c.BlurThreshold = quality.DefaultScanBlur
	}
	if c.ChallengeShift <= 0 {
		c.ChallengeShift = DefaultChallengeShift
	}
	return c
}

// Details are the raw quantities behind a verdict, kept for audit logs.
type Details struct {
	FaceRatio float64 `json:"face_ratio"`
	EyeRatio  float64 `json:"eye_ratio"`
	BlurScore float64 `json:"blur_score"`
}

// Verdict is the single-frame liveness decision. Checked false means the
// check could not run at all; Pass is then always false.
type Verdict struct {
	Checked bool    `json:"checked"`
	Pass    bool    `json:"pass"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
	Details Details `json:"details"`
}

// Evaluate scores one frame. Three sub-scores are each normalized by their
// configured floor and capped at 1: the face's share of the frame, the
// inter-eye distance relative to box width, and crop sharpness (photo
// recaptures tend to be blurrier than live captures). Their mean must reach
// MinScore to pass.
func Evaluate(img image.Image, face pipeline.Face, cfg Config) Verdict {
	cfg = cfg.withDefaults()

	if img == nil || len(face.Landmarks) < 2 {
		return Verdict{Reason: ReasonNoLandmarks}
	}

	bounds := img.Bounds()
	frameArea := float64(bounds.Dx()) * float64(bounds.Dy())
	boxWidth := float64(face.Box.Width())
	if frameArea <= 0 || boxWidth <= 0 {
		return Verdict{Reason: ReasonInvalidBox}
	}

	rect := face.Box.Rect().Intersect(bounds)
	if rect.Empty() {
		return Verdict{Reason: ReasonInvalidBox}
	}

	left := face.Landmarks[pipeline.LandmarkLeftEye]
	right := face.Landmarks[pipeline.LandmarkRightEye]
	eyeDist := math.Hypot(float64(right.X-left.X), float64(right.Y-left.Y))

	details := Details{
		FaceRatio: float64(face.Box.Area()) / frameArea,
		EyeRatio:  eyeDist / boxWidth,
		BlurScore: quality.BlurScore(imaging.Crop(img, rect)),
	}

	score := (capped(details.FaceRatio/cfg.MinFaceRatio) +
		capped(details.EyeRatio/cfg.MinEyeDistRatio) +
		capped(details.BlurScore/cfg.BlurThreshold)) / 3

	return Verdict{
		Checked: true,
		Pass:    score >= cfg.MinScore,
		Score:   score,
		Details: details,
	}
}

func capped(x float64) float64 {
	return math.Min(x, 1)
}
