// Package attendance orchestrates the two identity-bearing flows: marking
// attendance from a camera frame and registering reference captures. Both sit
// on the same pipeline, quality and matching layers; this package owns the
// business rules around them.
package attendance

import "errors"

// Views is the canonical set of pose views per identity.
var Views = []string{"front", "left", "right"}

// DefaultMaxHashDistance is the perceptual hash distance at or below which
// two captures count as the same photograph.
const DefaultMaxHashDistance = 6

// Registration failure modes. Handlers map these onto client errors; anything
// else coming out of the registrar is a server fault.
var (
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrInvalidView      = errors.New("invalid view")
	ErrBadImage         = errors.New("image could not be decoded")
	ErrNoFaceDetected   = errors.New("no face detected")
	ErrMultipleFaces    = errors.New("multiple faces detected")
	ErrLowQuality       = errors.New("capture quality too low")
	ErrLivenessFailed   = errors.New("liveness check failed")
	ErrViewExists       = errors.New("view already registered")
	ErrDuplicateCapture = errors.New("duplicate capture")
)

// IsValidView reports whether view is one of the canonical pose views.
func IsValidView(view string) bool {
	for _, v := range Views {
		if v == view {
			return true
		}
	}
	return false
}
