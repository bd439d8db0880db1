package handlers

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/attendance"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/store"
)

func newScanHandler(t *testing.T, engine pipeline.Engine) (*ScanHandler, *store.Store) {
	t.Helper()
	st, cache := newTestStore(t)
	scanner := attendance.NewScanner(engine, st, cache, attendance.ScanConfig{}, zap.NewNop())
	return NewScanHandler(scanner, zap.NewNop()), st
}

func TestScanHandler_Scan_Marked(t *testing.T) {
	vec := []float32{1, 0, 0, 0}
	handler, st := newScanHandler(t, &stubEngine{faces: []pipeline.Face{goodFace(vec)}})
	if _, err := st.Save("alice", "front", vec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	req := jsonRequest(t, "POST", "/api/v1/scan", map[string]any{
		"image":       noisyBase64(t, 1),
		"session_key": "2026-03-02/cs101",
	})
	recorder := httptest.NewRecorder()
	handler.Scan(recorder, req)

	assertStatusCode(t, recorder, 200)

	var result attendance.ScanResult
	parseJSONResponse(t, recorder, &result)
	if !result.Marked {
		t.Fatalf("Marked = false (skip %q), want marked", result.SkipReason)
	}
	if result.Identity != "alice" {
		t.Errorf("Identity = %q, want alice", result.Identity)
	}
	if result.EngineMode != "stub" {
		t.Errorf("EngineMode = %q, want stub", result.EngineMode)
	}
}

func TestScanHandler_Scan_SkipIsNotAnError(t *testing.T) {
	handler, _ := newScanHandler(t, &stubEngine{})

	req := jsonRequest(t, "POST", "/api/v1/scan", map[string]any{"image": noisyBase64(t, 2)})
	recorder := httptest.NewRecorder()
	handler.Scan(recorder, req)

	assertStatusCode(t, recorder, 200)

	var result attendance.ScanResult
	parseJSONResponse(t, recorder, &result)
	if result.Marked || result.SkipReason != attendance.SkipNoFace {
		t.Errorf("got marked=%v reason=%q, want skip %q", result.Marked, result.SkipReason, attendance.SkipNoFace)
	}
}

func TestScanHandler_Scan_DataURLPrefix(t *testing.T) {
	handler, _ := newScanHandler(t, &stubEngine{})

	req := jsonRequest(t, "POST", "/api/v1/scan", map[string]any{
		"image": "data:image/jpeg;base64," + noisyBase64(t, 3),
	})
	recorder := httptest.NewRecorder()
	handler.Scan(recorder, req)

	assertStatusCode(t, recorder, 200)
}

func TestScanHandler_Scan_InvalidBody(t *testing.T) {
	handler, _ := newScanHandler(t, &stubEngine{})

	req := httptest.NewRequest("POST", "/api/v1/scan", strings.NewReader("not json"))
	recorder := httptest.NewRecorder()
	handler.Scan(recorder, req)

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "invalid request body")
}

func TestScanHandler_Scan_MissingImage(t *testing.T) {
	handler, _ := newScanHandler(t, &stubEngine{})

	req := jsonRequest(t, "POST", "/api/v1/scan", map[string]any{"session_key": "x"})
	recorder := httptest.NewRecorder()
	handler.Scan(recorder, req)

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "image is required")
}

func TestScanHandler_Scan_BadBase64(t *testing.T) {
	handler, _ := newScanHandler(t, &stubEngine{})

	req := jsonRequest(t, "POST", "/api/v1/scan", map[string]any{"image": "!!not-base64!!"})
	recorder := httptest.NewRecorder()
	handler.Scan(recorder, req)

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "image is not valid base64")
}

func TestScanHandler_Scan_EngineFailure(t *testing.T) {
	handler, _ := newScanHandler(t, &stubEngine{err: errors.New("model exploded")})

	req := jsonRequest(t, "POST", "/api/v1/scan", map[string]any{"image": noisyBase64(t, 4)})
	recorder := httptest.NewRecorder()
	handler.Scan(recorder, req)

	assertStatusCode(t, recorder, 500)
	assertJSONError(t, recorder, "scan failed")
}
