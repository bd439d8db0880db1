package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/store"
)

// stubEngine returns scripted detections. When queue is set, each Detect
// call pops the next entry; otherwise every call returns faces.
type stubEngine struct {
	faces []pipeline.Face
	queue [][]pipeline.Face
	err   error
}

func (s *stubEngine) Detect(ctx context.Context, img image.Image) ([]pipeline.Face, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		return next, nil
	}
	return s.faces, nil
}

func (s *stubEngine) Mode() string { return "stub" }

func (s *stubEngine) Dim() int { return 4 }

func (s *stubEngine) Close() error { return nil }

// goodFace fills most of a 200x200 frame with wide-set eye landmarks, so it
// clears the quality and single-frame liveness gates.
func goodFace(emb []float32) pipeline.Face {
	return pipeline.Face{
		Embedding: emb,
		Box:       pipeline.Box{X1: 20, Y1: 20, X2: 180, Y2: 180},
		Score:     0.9,
		Landmarks: []pipeline.Point{
			{X: 60, Y: 80}, {X: 140, Y: 80}, {X: 100, Y: 100}, {X: 80, Y: 140}, {X: 120, Y: 140},
		},
	}
}

// faceWithNose is goodFace with the nose landmark moved to noseX, for
// scripting head-turn bursts.
func faceWithNose(emb []float32, noseX float32) pipeline.Face {
	f := goodFace(emb)
	f.Landmarks[pipeline.LandmarkNose] = pipeline.Point{X: noseX, Y: 100}
	return f
}

// noisyJPEG encodes binary per-pixel noise, which stays sharp through JPEG
// round-trips and hashes far apart for distinct seeds.
func noisyJPEG(t *testing.T, width, height int, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(rng.Intn(2)) * 255
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		t.Fatalf("EncodeJPEG() error = %v", err)
	}
	return data
}

func noisyBase64(t *testing.T, seed int64) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(noisyJPEG(t, 200, 200, seed))
}

func newTestStore(t *testing.T) (*store.Store, *gallery.Cache) {
	t.Helper()
	return store.New(t.TempDir(), 0, zap.NewNop()), gallery.NewCache(zap.NewNop())
}

// jsonRequest creates a request carrying a JSON-encoded body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
