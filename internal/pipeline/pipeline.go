// Package pipeline is the boundary to face detection and feature extraction.
// Two engines implement it: a remote inference sidecar speaking HTTP, and a
// pure-Go Viola-Jones cascade used when the sidecar is unreachable. The
// engine is selected once at startup; everything downstream only sees the
// Engine interface and the per-face Detection contract.
package pipeline

import (
	"context"
	"errors"
	"image"
	"math"
	"time"

	"go.uber.org/zap"
)

// Engine modes as reported by Mode(), health and stats.
const (
	ModeRemote  = "sface-remote"
	ModeCascade = "cascade-fallback"
)

// ErrNoEngine means neither the remote sidecar nor the cascade file is
// usable. That is a deployment problem, not a per-request condition.
var ErrNoEngine = errors.New("no face engine available")

// Point is one landmark coordinate in image pixels.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Box is a face bounding box in image pixels.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// Width returns the box width.
func (b Box) Width() float32 {
	return b.X2 - b.X1
}

// Height returns the box height.
func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

// Area returns the box area, never negative.
func (b Box) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Center returns the box midpoint.
func (b Box) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Rect converts the box to integer pixel coordinates.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(float64(b.X1))),
		int(math.Round(float64(b.Y1))),
		int(math.Round(float64(b.X2))),
		int(math.Round(float64(b.Y2))),
	)
}

// Face is one detection with its feature vector. Landmarks follow the
// five-point convention (left eye, right eye, nose, left mouth corner,
// right mouth corner) and are nil when the engine cannot localize them.
type Face struct {
	Embedding []float32 `json:"embedding,omitempty"`
	Box       Box       `json:"box"`
	Score     float32   `json:"score"`
	Landmarks []Point   `json:"landmarks,omitempty"`
}

// Landmark indexes into Face.Landmarks.
const (
	LandmarkLeftEye = iota
	LandmarkRightEye
	LandmarkNose
	LandmarkMouthLeft
	LandmarkMouthRight
)

// Engine detects faces and extracts their feature vectors. Implementations
// return an empty slice with a nil error for images containing no face; an
// error means the engine itself failed.
type Engine interface {
	Detect(ctx context.Context, img image.Image) ([]Face, error)
	Mode() string
	Dim() int
	Close() error
}

// Options configures engine selection.
type Options struct {
	// EngineURL is the base URL of the face inference sidecar. Empty skips
	// the remote engine entirely.
	EngineURL string

	// EngineTimeout bounds each sidecar request. Zero selects a default.
	EngineTimeout time.Duration

	// CascadePath points at a binary Viola-Jones cascade file. Empty skips
	// the fallback engine.
	CascadePath string

	// CascadeMinSize is the smallest face edge the cascade will consider,
	// in pixels. Zero selects a default.
	CascadeMinSize int
}

// New selects the best available engine: the remote sidecar when it answers
// its health probe, otherwise the cascade fallback. Running on the cascade
// is a capability downgrade and is logged as a warning so operators notice;
// it must never be silent. With neither available New returns ErrNoEngine.
func New(ctx context.Context, opts Options, log *zap.Logger) (Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if opts.EngineURL != "" {
		eng, err := newRemoteEngine(ctx, opts.EngineURL, opts.EngineTimeout)
		if err == nil {
			log.Info("face engine ready",
				zap.String("mode", eng.Mode()),
				zap.String("model", eng.model),
				zap.Int("dim", eng.Dim()))
			return eng, nil
		}
		log.Warn("face engine unreachable, trying cascade fallback",
			zap.String("url", opts.EngineURL),
			zap.Error(err))
	}

	if opts.CascadePath != "" {
		eng, err := newCascadeEngine(opts.CascadePath, opts.CascadeMinSize)
		if err == nil {
			log.Warn("face engine running in degraded cascade mode",
				zap.String("cascade", opts.CascadePath),
				zap.Int("dim", eng.Dim()))
			return eng, nil
		}
		log.Warn("cascade fallback unavailable",
			zap.String("cascade", opts.CascadePath),
			zap.Error(err))
	}

	return nil, ErrNoEngine
}

// BestFace picks the face to act on when a frame contains several: highest
// detection score first, larger box on equal scores. Kiosk captures put the
// subject closest to the camera, so area is the natural tie-breaker for
// engines that report flat scores.
func BestFace(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return Face{}, false
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Score > best.Score || (f.Score == best.Score && f.Box.Area() > best.Box.Area()) {
			best = f
		}
	}
	return best, true
}
