package handlers

import (
	"context"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/database/mock"
)

func newDisputesFixture(t *testing.T) (*DisputesHandler, *mock.MockDisputeStore, *mock.MockEventStore) {
	t.Helper()
	disputes := mock.NewMockDisputeStore()
	events := mock.NewMockEventStore()
	seedEvents(t, events)
	return NewDisputesHandler(disputes, events, zap.NewNop()), disputes, events
}

func TestDisputesHandler_Open_NoDatabase(t *testing.T) {
	handler := NewDisputesHandler(nil, nil, zap.NewNop())

	req := jsonRequest(t, "POST", "/api/v1/disputes", map[string]any{"event_id": 1, "identity": "alice"})
	recorder := httptest.NewRecorder()
	handler.Open(recorder, req)

	assertStatusCode(t, recorder, 503)
	assertJSONError(t, recorder, "audit database not configured")
}

func TestDisputesHandler_Open_MissingFields(t *testing.T) {
	handler, _, _ := newDisputesFixture(t)

	tests := []struct {
		name    string
		body    map[string]any
		message string
	}{
		{"no event id", map[string]any{"identity": "alice"}, "event_id is required"},
		{"no identity", map[string]any{"event_id": 1}, "identity is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest(t, "POST", "/api/v1/disputes", tt.body)
			recorder := httptest.NewRecorder()
			handler.Open(recorder, req)

			assertStatusCode(t, recorder, 400)
			assertJSONError(t, recorder, tt.message)
		})
	}
}

func TestDisputesHandler_Open_EventNotFound(t *testing.T) {
	handler, _, _ := newDisputesFixture(t)

	req := jsonRequest(t, "POST", "/api/v1/disputes", map[string]any{"event_id": 999, "identity": "alice"})
	recorder := httptest.NewRecorder()
	handler.Open(recorder, req)

	assertStatusCode(t, recorder, 404)
	assertJSONError(t, recorder, "event not found")
}

func TestDisputesHandler_Open_Created(t *testing.T) {
	handler, _, _ := newDisputesFixture(t)

	req := jsonRequest(t, "POST", "/api/v1/disputes", map[string]any{
		"event_id": 1,
		"identity": "alice",
		"reason":   "I was in the library",
	})
	recorder := httptest.NewRecorder()
	handler.Open(recorder, req)

	assertStatusCode(t, recorder, 201)

	var dispute database.Dispute
	parseJSONResponse(t, recorder, &dispute)
	if dispute.ID == 0 {
		t.Error("dispute ID not assigned")
	}
	if dispute.Status != database.DisputeOpen {
		t.Errorf("Status = %q, want %q", dispute.Status, database.DisputeOpen)
	}
	if dispute.EventID != 1 || dispute.Identity != "alice" {
		t.Errorf("dispute = %+v, want event 1 / alice", dispute)
	}
}

func TestDisputesHandler_List_InvalidStatus(t *testing.T) {
	handler, _, _ := newDisputesFixture(t)

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/disputes?status=pending", nil))

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "invalid status filter")
}

func TestDisputesHandler_List_FiltersByStatus(t *testing.T) {
	handler, disputes, _ := newDisputesFixture(t)

	ctx := context.Background()
	first := &database.Dispute{EventID: 1, Identity: "alice", Reason: "wrong person"}
	second := &database.Dispute{EventID: 2, Identity: "bob", Reason: "not present"}
	if err := disputes.Open(ctx, first); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := disputes.Open(ctx, second); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := disputes.Resolve(ctx, second.ID, database.DisputeRejected, "camera footage checked"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest("GET", "/api/v1/disputes?status=open", nil))

	assertStatusCode(t, recorder, 200)

	var resp struct {
		Disputes []database.Dispute `json:"disputes"`
		Count    int                `json:"count"`
	}
	parseJSONResponse(t, recorder, &resp)
	if resp.Count != 1 {
		t.Fatalf("Count = %d, want 1 open dispute", resp.Count)
	}
	if resp.Disputes[0].ID != first.ID {
		t.Errorf("listed dispute %d, want %d", resp.Disputes[0].ID, first.ID)
	}
}

func TestDisputesHandler_Resolve_InvalidID(t *testing.T) {
	handler, _, _ := newDisputesFixture(t)

	req := requestWithChiParams(
		jsonRequest(t, "PATCH", "/api/v1/disputes/abc", map[string]any{"status": "approved"}),
		map[string]string{"id": "abc"})
	recorder := httptest.NewRecorder()
	handler.Resolve(recorder, req)

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "invalid dispute id")
}

func TestDisputesHandler_Resolve_BadStatus(t *testing.T) {
	handler, _, _ := newDisputesFixture(t)

	req := requestWithChiParams(
		jsonRequest(t, "PATCH", "/api/v1/disputes/1", map[string]any{"status": "maybe"}),
		map[string]string{"id": "1"})
	recorder := httptest.NewRecorder()
	handler.Resolve(recorder, req)

	assertStatusCode(t, recorder, 400)
	assertJSONError(t, recorder, "status must be approved or rejected")
}

func TestDisputesHandler_Resolve_NotFound(t *testing.T) {
	handler, _, _ := newDisputesFixture(t)

	req := requestWithChiParams(
		jsonRequest(t, "PATCH", "/api/v1/disputes/42", map[string]any{"status": "approved"}),
		map[string]string{"id": "42"})
	recorder := httptest.NewRecorder()
	handler.Resolve(recorder, req)

	assertStatusCode(t, recorder, 404)
	assertJSONError(t, recorder, "dispute not found")
}

func TestDisputesHandler_Resolve_Approves(t *testing.T) {
	handler, disputes, _ := newDisputesFixture(t)

	dispute := &database.Dispute{EventID: 1, Identity: "alice", Reason: "wrong person"}
	if err := disputes.Open(context.Background(), dispute); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	req := requestWithChiParams(
		jsonRequest(t, "PATCH", "/api/v1/disputes/1", map[string]any{
			"status":     "approved",
			"resolution": "reviewed the frame, not her",
		}),
		map[string]string{"id": "1"})
	recorder := httptest.NewRecorder()
	handler.Resolve(recorder, req)

	assertStatusCode(t, recorder, 200)

	var resolved database.Dispute
	parseJSONResponse(t, recorder, &resolved)
	if resolved.Status != database.DisputeApproved {
		t.Errorf("Status = %q, want %q", resolved.Status, database.DisputeApproved)
	}
	if resolved.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}
	if resolved.Resolution == "" {
		t.Error("Resolution not carried over")
	}
}

func TestDisputesHandler_Resolve_AlreadyResolved(t *testing.T) {
	handler, disputes, _ := newDisputesFixture(t)

	dispute := &database.Dispute{EventID: 1, Identity: "alice", Reason: "wrong person"}
	if err := disputes.Open(context.Background(), dispute); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := disputes.Resolve(context.Background(), dispute.ID, database.DisputeRejected, "checked"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	req := requestWithChiParams(
		jsonRequest(t, "PATCH", "/api/v1/disputes/1", map[string]any{"status": "approved"}),
		map[string]string{"id": "1"})
	recorder := httptest.NewRecorder()
	handler.Resolve(recorder, req)

	assertStatusCode(t, recorder, 409)
}
