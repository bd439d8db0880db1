package liveness

import (
	"image"
	"math/rand"
	"testing"

	"github.com/campusware/rollcall/internal/pipeline"
)

func noisyImage(width, height int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func flatImage(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func TestEvaluateFailsClosedWithoutLandmarks(t *testing.T) {
	img := noisyImage(200, 200, 1)

	tests := []struct {
		name      string
		landmarks []pipeline.Point
	}{
		{"nil landmarks", nil},
		{"single landmark", []pipeline.Point{{X: 50, Y: 50}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			face := pipeline.Face{
				Box:       pipeline.Box{X1: 20, Y1: 20, X2: 180, Y2: 180},
				Landmarks: tt.landmarks,
			}
			got := Evaluate(img, face, Config{})
			if got.Checked || got.Pass {
				t.Errorf("Evaluate() = %+v, want unchecked fail", got)
			}
			if got.Reason != ReasonNoLandmarks {
				t.Errorf("Evaluate() reason = %q, want %q", got.Reason, ReasonNoLandmarks)
			}
		})
	}
}

func TestEvaluateFailsClosedWithoutImage(t *testing.T) {
	face := pipeline.Face{
		Box:       pipeline.Box{X1: 20, Y1: 20, X2: 180, Y2: 180},
		Landmarks: []pipeline.Point{{X: 60, Y: 80}, {X: 140, Y: 80}},
	}

	got := Evaluate(nil, face, Config{})
	if got.Checked || got.Pass {
		t.Errorf("Evaluate(nil image) = %+v, want unchecked fail", got)
	}
}

func TestEvaluateRejectsDegenerateBox(t *testing.T) {
	img := noisyImage(200, 200, 2)
	face := pipeline.Face{
		Box:       pipeline.Box{X1: 50, Y1: 50, X2: 50, Y2: 120},
		Landmarks: []pipeline.Point{{X: 55, Y: 80}, {X: 60, Y: 80}},
	}

	got := Evaluate(img, face, Config{})
	if got.Checked {
		t.Errorf("Evaluate() = %+v, want unchecked for zero-width box", got)
	}
	if got.Reason != ReasonInvalidBox {
		t.Errorf("Evaluate() reason = %q, want %q", got.Reason, ReasonInvalidBox)
	}
}

func TestEvaluatePassesForLargeSharpFace(t *testing.T) {
	img := noisyImage(200, 200, 3)
	face := pipeline.Face{
		Box: pipeline.Box{X1: 20, Y1: 20, X2: 180, Y2: 180},
		Landmarks: []pipeline.Point{
			{X: 60, Y: 80}, {X: 140, Y: 80}, {X: 100, Y: 120},
		},
	}

	got := Evaluate(img, face, Config{})
	if !got.Checked {
		t.Fatalf("Evaluate() unchecked: %+v", got)
	}
	if !got.Pass {
		t.Errorf("Evaluate() = %+v, want pass", got)
	}
	if got.Score != 1 {
		t.Errorf("Evaluate() score = %v, want 1 with all sub-scores capped", got.Score)
	}
}

func TestEvaluateFailsForSmallBlurryFace(t *testing.T) {
	img := flatImage(640, 480)
	face := pipeline.Face{
		Box: pipeline.Box{X1: 0, Y1: 0, X2: 20, Y2: 20},
		Landmarks: []pipeline.Point{
			{X: 4, Y: 8}, {X: 8, Y: 8},
		},
	}

	got := Evaluate(img, face, Config{})
	if !got.Checked {
		t.Fatalf("Evaluate() unchecked: %+v", got)
	}
	if got.Pass {
		t.Errorf("Evaluate() = %+v, want fail", got)
	}
	if got.Score >= DefaultMinScore {
		t.Errorf("Evaluate() score = %v, want below %v", got.Score, DefaultMinScore)
	}
	if got.Details.BlurScore != 0 {
		t.Errorf("Evaluate() blur = %v, want 0 for a flat crop", got.Details.BlurScore)
	}
}

func TestEvaluateDetailsReported(t *testing.T) {
	img := noisyImage(200, 200, 4)
	face := pipeline.Face{
		Box: pipeline.Box{X1: 50, Y1: 50, X2: 150, Y2: 150},
		Landmarks: []pipeline.Point{
			{X: 75, Y: 85}, {X: 125, Y: 85},
		},
	}

	got := Evaluate(img, face, Config{})
	if !got.Checked {
		t.Fatalf("Evaluate() unchecked: %+v", got)
	}
	// Face covers 100x100 of 200x200, so a quarter of the frame.
	if got.Details.FaceRatio != 0.25 {
		t.Errorf("face ratio = %v, want 0.25", got.Details.FaceRatio)
	}
	// Eyes 50px apart across a 100px box.
	if got.Details.EyeRatio != 0.5 {
		t.Errorf("eye ratio = %v, want 0.5", got.Details.EyeRatio)
	}
	if got.Details.BlurScore <= 0 {
		t.Errorf("blur = %v, want positive for a noisy crop", got.Details.BlurScore)
	}
}
