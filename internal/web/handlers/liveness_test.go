package handlers

import (
	"errors"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/liveness"
	"github.com/campusware/rollcall/internal/pipeline"
)

func TestLivenessHandler_Challenge_Pass(t *testing.T) {
	vec := []float32{1, 0, 0, 0}
	// Nose at x=100 is centered in the 20..180 box; x=60 is well left.
	engine := &stubEngine{queue: [][]pipeline.Face{
		{faceWithNose(vec, 100)},
		{faceWithNose(vec, 60)},
	}}
	handler := NewLivenessHandler(engine, liveness.Config{}, zap.NewNop())

	req := jsonRequest(t, "POST", "/api/v1/liveness/challenge", map[string]any{
		"images":    []string{noisyBase64(t, 20), noisyBase64(t, 21)},
		"challenge": liveness.ChallengeTurnLeft,
	})
	recorder := httptest.NewRecorder()
	handler.Challenge(recorder, req)

	assertStatusCode(t, recorder, 200)

	var verdict liveness.ChallengeVerdict
	parseJSONResponse(t, recorder, &verdict)
	if !verdict.OK {
		t.Fatalf("OK = false, reason %q", verdict.Reason)
	}
	if !verdict.Pass {
		t.Errorf("Pass = false, details %+v ratios %v", verdict.Details, verdict.Ratios)
	}
}

func TestLivenessHandler_Challenge_ReplayedFramesCollapse(t *testing.T) {
	vec := []float32{1, 0, 0, 0}
	engine := &stubEngine{queue: [][]pipeline.Face{
		{faceWithNose(vec, 100)},
		{faceWithNose(vec, 60)},
	}}
	handler := NewLivenessHandler(engine, liveness.Config{}, zap.NewNop())

	// The same capture submitted twice leaves a single usable frame.
	same := noisyBase64(t, 22)
	req := jsonRequest(t, "POST", "/api/v1/liveness/challenge", map[string]any{
		"images":    []string{same, same},
		"challenge": liveness.ChallengeTurnLeft,
	})
	recorder := httptest.NewRecorder()
	handler.Challenge(recorder, req)

	assertStatusCode(t, recorder, 200)

	var verdict liveness.ChallengeVerdict
	parseJSONResponse(t, recorder, &verdict)
	if verdict.OK || verdict.Pass {
		t.Errorf("got ok=%v pass=%v, want replay rejected", verdict.OK, verdict.Pass)
	}
	if verdict.Reason != liveness.ReasonNoLandmarks {
		t.Errorf("Reason = %q, want %q", verdict.Reason, liveness.ReasonNoLandmarks)
	}
}

func TestLivenessHandler_Challenge_UnknownChallenge(t *testing.T) {
	vec := []float32{1, 0, 0, 0}
	engine := &stubEngine{queue: [][]pipeline.Face{
		{faceWithNose(vec, 100)},
		{faceWithNose(vec, 60)},
	}}
	handler := NewLivenessHandler(engine, liveness.Config{}, zap.NewNop())

	req := jsonRequest(t, "POST", "/api/v1/liveness/challenge", map[string]any{
		"images":    []string{noisyBase64(t, 23), noisyBase64(t, 24)},
		"challenge": "jump",
	})
	recorder := httptest.NewRecorder()
	handler.Challenge(recorder, req)

	assertStatusCode(t, recorder, 200)

	var verdict liveness.ChallengeVerdict
	parseJSONResponse(t, recorder, &verdict)
	if verdict.OK {
		t.Error("OK = true for unknown challenge")
	}
	if verdict.Reason != liveness.ReasonInvalidChallenge {
		t.Errorf("Reason = %q, want %q", verdict.Reason, liveness.ReasonInvalidChallenge)
	}
}

func TestLivenessHandler_Challenge_NoImages(t *testing.T) {
	handler := NewLivenessHandler(&stubEngine{}, liveness.Config{}, zap.NewNop())

	req := jsonRequest(t, "POST", "/api/v1/liveness/challenge", map[string]any{
		"challenge": liveness.ChallengeTurnLeft,
	})
	recorder := httptest.NewRecorder()
	handler.Challenge(recorder, req)

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "images are required")
}

func TestLivenessHandler_Challenge_BadBase64Frame(t *testing.T) {
	handler := NewLivenessHandler(&stubEngine{}, liveness.Config{}, zap.NewNop())

	req := jsonRequest(t, "POST", "/api/v1/liveness/challenge", map[string]any{
		"images":    []string{noisyBase64(t, 25), "!!not-base64!!"},
		"challenge": liveness.ChallengeTurnLeft,
	})
	recorder := httptest.NewRecorder()
	handler.Challenge(recorder, req)

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "images[1] is not valid base64")
}

func TestLivenessHandler_Challenge_UndecodableFrame(t *testing.T) {
	handler := NewLivenessHandler(&stubEngine{}, liveness.Config{}, zap.NewNop())

	req := jsonRequest(t, "POST", "/api/v1/liveness/challenge", map[string]any{
		"images":    []string{"bm90IGFuIGltYWdl"},
		"challenge": liveness.ChallengeTurnLeft,
	})
	recorder := httptest.NewRecorder()
	handler.Challenge(recorder, req)

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "images[0] is not a decodable image")
}

func TestLivenessHandler_Challenge_DetectFailure(t *testing.T) {
	handler := NewLivenessHandler(&stubEngine{err: errors.New("model exploded")}, liveness.Config{}, zap.NewNop())

	req := jsonRequest(t, "POST", "/api/v1/liveness/challenge", map[string]any{
		"images":    []string{noisyBase64(t, 26)},
		"challenge": liveness.ChallengeTurnLeft,
	})
	recorder := httptest.NewRecorder()
	handler.Challenge(recorder, req)

	assertStatusCode(t, recorder, 500)
	assertJSONError(t, recorder, "face detection failed")
}
