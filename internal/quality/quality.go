// Package quality gates face crops before they reach recognition. Low
// detector confidence and blurry crops produce embeddings that match the
// wrong person more often than they match the right one, so both are
// rejected up front with a machine-readable reason.
package quality

import (
	"image"

	"github.com/campusware/rollcall/internal/imaging"
)

const (
	// DefaultPadding is the pixel margin added around a detector box before
	// cropping, so the embedding sees chin and hairline context.
	DefaultPadding = 12

	// DefaultMinDetScore rejects marginal detections.
	DefaultMinDetScore float32 = 0.6

	// DefaultScanBlur is the minimum Laplacian variance for attendance scans.
	DefaultScanBlur = 100.0

	// DefaultRegistrationBlur is stricter: enrollment samples seed the
	// gallery, so they must be sharper than what a scan would accept.
	DefaultRegistrationBlur = 120.0
)

// Skip reasons reported by Check.
const (
	ReasonLowDetScore = "low_det_score"
	ReasonBlur        = "blur"
)

// Gate holds the thresholds for one capture path. The zero value rejects
// everything; build it from a profile.
type Gate struct {
	MinDetScore   float32
	BlurThreshold float64
}

// ScanGate returns the gate used for attendance captures.
func ScanGate() Gate {
	return Gate{MinDetScore: DefaultMinDetScore, BlurThreshold: DefaultScanBlur}
}

// RegistrationGate returns the stricter gate used for enrollment captures.
func RegistrationGate() Gate {
	return Gate{MinDetScore: DefaultMinDetScore, BlurThreshold: DefaultRegistrationBlur}
}

// Verdict is the gate decision for one crop. Reason is empty when OK.
type Verdict struct {
	OK        bool    `json:"ok"`
	Reason    string  `json:"reason,omitempty"`
	BlurScore float64 `json:"blur_score"`
}

// Check evaluates detector confidence first, then crop sharpness. The blur
// score is computed only when the detection clears the confidence bar, since
// the Laplacian pass is the expensive half.
func (g Gate) Check(crop image.Image, detScore float32) Verdict {
	if detScore < g.MinDetScore {
		return Verdict{Reason: ReasonLowDetScore}
	}

	blur := BlurScore(crop)
	if blur < g.BlurThreshold {
		return Verdict{Reason: ReasonBlur, BlurScore: blur}
	}
	return Verdict{OK: true, BlurScore: blur}
}

// BlurScore measures sharpness as the variance of the Laplacian over the
// grayscale crop. Higher is sharper; a flat image scores zero.
func BlurScore(img image.Image) float64 {
	return imaging.LaplacianVariance(imaging.Grayscale(img))
}

// ExpandAndClamp grows the detector box by pad pixels on every side and
// clamps the result to the image bounds. Boxes fully outside the bounds
// collapse to the empty rectangle.
func ExpandAndClamp(box, bounds image.Rectangle, pad int) image.Rectangle {
	return box.Inset(-pad).Intersect(bounds)
}
