package handlers

import (
	"context"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/database/mock"
)

// storageEmbedding builds a probe vector sized for the audit schema.
func storageEmbedding(seed float32) []float32 {
	vec := make([]float32, database.EmbeddingDim)
	vec[0] = seed
	vec[1] = 1
	return vec
}

func seedEvents(t *testing.T, events *mock.MockEventStore) {
	t.Helper()
	inserts := []database.AttendanceEvent{
		{Identity: "alice", SessionKey: "2026-03-02/cs101", View: "front", Similarity: 0.92, EngineMode: "sface-remote", ProbeEmbedding: storageEmbedding(1)},
		{Identity: "bob", SessionKey: "2026-03-02/cs101", View: "left", Similarity: 0.81, EngineMode: "sface-remote", ProbeEmbedding: storageEmbedding(2)},
		{Identity: "alice", SessionKey: "2026-03-03/cs101", View: "front", Similarity: 0.88, EngineMode: "cascade-fallback"},
	}
	for i := range inserts {
		if err := events.Insert(context.Background(), &inserts[i]); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
}

func TestEventsHandler_List_NoDatabase(t *testing.T) {
	handler := NewEventsHandler(nil, zap.NewNop())

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/events", nil))

	assertStatusCode(t, recorder, 503)
	assertJSONError(t, recorder, "audit database not configured")
}

func TestEventsHandler_List_ReturnsEvents(t *testing.T) {
	events := mock.NewMockEventStore()
	seedEvents(t, events)
	handler := NewEventsHandler(events, zap.NewNop())

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/events", nil))

	assertStatusCode(t, recorder, 200)

	var resp struct {
		Events []database.AttendanceEvent `json:"events"`
		Count  int                        `json:"count"`
	}
	parseJSONResponse(t, recorder, &resp)
	if resp.Count != 3 {
		t.Errorf("Count = %d, want 3", resp.Count)
	}
}

func TestEventsHandler_List_FiltersByIdentity(t *testing.T) {
	events := mock.NewMockEventStore()
	seedEvents(t, events)
	handler := NewEventsHandler(events, zap.NewNop())

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/events?identity=bob", nil))

	assertStatusCode(t, recorder, 200)

	var resp struct {
		Events []database.AttendanceEvent `json:"events"`
		Count  int                        `json:"count"`
	}
	parseJSONResponse(t, recorder, &resp)
	if resp.Count != 1 {
		t.Fatalf("Count = %d, want 1", resp.Count)
	}
	if resp.Events[0].Identity != "bob" {
		t.Errorf("Identity = %q, want bob", resp.Events[0].Identity)
	}
}

func TestEventsHandler_List_BadSince(t *testing.T) {
	handler := NewEventsHandler(mock.NewMockEventStore(), zap.NewNop())

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/events?since=yesterday", nil))

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "since must be an RFC 3339 timestamp")
}

func TestEventsHandler_List_BadLimit(t *testing.T) {
	handler := NewEventsHandler(mock.NewMockEventStore(), zap.NewNop())

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/events?limit=-3", nil))

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "limit must be a positive integer")
}

func TestEventsHandler_Similar_InvalidID(t *testing.T) {
	handler := NewEventsHandler(mock.NewMockEventStore(), zap.NewNop())

	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/events/abc/similar", nil),
		map[string]string{"id": "abc"})
	recorder := httptest.NewRecorder()
	handler.Similar(recorder, req)

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "invalid event id")
}

func TestEventsHandler_Similar_NoStoredProbe(t *testing.T) {
	events := mock.NewMockEventStore()
	seedEvents(t, events)
	handler := NewEventsHandler(events, zap.NewNop())

	// Event 3 was recorded by the fallback engine and has no probe.
	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/events/3/similar", nil),
		map[string]string{"id": "3"})
	recorder := httptest.NewRecorder()
	handler.Similar(recorder, req)

	assertStatusCode(t, recorder, 404)
	assertJSONError(t, recorder, "event has no stored probe")
}

func TestEventsHandler_Similar_ReturnsNeighbors(t *testing.T) {
	events := mock.NewMockEventStore()
	seedEvents(t, events)
	handler := NewEventsHandler(events, zap.NewNop())

	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/events/1/similar", nil),
		map[string]string{"id": "1"})
	recorder := httptest.NewRecorder()
	handler.Similar(recorder, req)

	assertStatusCode(t, recorder, 200)

	var resp struct {
		EventID int64          `json:"event_id"`
		Similar []SimilarEvent `json:"similar"`
	}
	parseJSONResponse(t, recorder, &resp)
	if resp.EventID != 1 {
		t.Errorf("EventID = %d, want 1", resp.EventID)
	}
	if len(resp.Similar) == 0 {
		t.Fatal("Similar is empty, want probe-bearing neighbors")
	}
	for _, s := range resp.Similar {
		if s.Distance <= 0 {
			t.Errorf("Distance = %f for event %d, want positive", s.Distance, s.ID)
		}
	}
}
