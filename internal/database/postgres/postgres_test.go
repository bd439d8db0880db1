//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/config"
	"github.com/campusware/rollcall/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg, zap.NewNop())
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func testEmbedding(offset int) []float32 {
	emb := make([]float32, database.EmbeddingDim)
	for i := range emb {
		emb[i] = float32(i+offset) / float32(database.EmbeddingDim)
	}
	return emb
}

func TestIdentityRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewIdentityRepository(pool)

	t.Run("UpsertAndGet", func(t *testing.T) {
		err := repo.Upsert(ctx, database.Identity{
			ID:          "anna-novak",
			DisplayName: "Anna Novak",
			ExternalRef: "S2024-0042",
		})
		if err != nil {
			t.Fatalf("Failed to upsert identity: %v", err)
		}

		got, err := repo.Get(ctx, "anna-novak")
		if err != nil {
			t.Fatalf("Failed to get identity: %v", err)
		}
		if got == nil {
			t.Fatal("Expected identity, got nil")
		}
		if got.DisplayName != "Anna Novak" {
			t.Errorf("Expected DisplayName 'Anna Novak', got '%s'", got.DisplayName)
		}
		if got.ExternalRef != "S2024-0042" {
			t.Errorf("Expected ExternalRef 'S2024-0042', got '%s'", got.ExternalRef)
		}
	})

	t.Run("UpsertUpdatesExisting", func(t *testing.T) {
		err := repo.Upsert(ctx, database.Identity{
			ID:          "anna-novak",
			DisplayName: "Anna Novakova",
		})
		if err != nil {
			t.Fatalf("Failed to upsert identity: %v", err)
		}

		got, _ := repo.Get(ctx, "anna-novak")
		if got.DisplayName != "Anna Novakova" {
			t.Errorf("Expected updated DisplayName, got '%s'", got.DisplayName)
		}

		count, err := repo.Count(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 1 {
			t.Errorf("Expected 1 identity after upsert, got %d", count)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, err := repo.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Failed to get identity: %v", err)
		}
		if got != nil {
			t.Errorf("Expected nil for missing identity, got %+v", got)
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		repo.Upsert(ctx, database.Identity{ID: "ben-okafor", DisplayName: "Ben Okafor"})

		identities, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(identities) != 2 {
			t.Fatalf("Expected 2 identities, got %d", len(identities))
		}
		if identities[0].ID != "anna-novak" {
			t.Errorf("Expected identities ordered by ID, got '%s' first", identities[0].ID)
		}

		if err := repo.Delete(ctx, "ben-okafor"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		count, _ := repo.Count(ctx)
		if count != 1 {
			t.Errorf("Expected 1 identity after delete, got %d", count)
		}
	})
}

func TestEventRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewEventRepository(pool)

	t.Run("InsertAndGet", func(t *testing.T) {
		event := &database.AttendanceEvent{
			Identity:       "anna-novak",
			SessionKey:     "2026-03-02/cs101",
			View:           "front",
			Similarity:     0.81,
			LivenessScore:  0.92,
			EngineMode:     "sface-remote",
			ProbeEmbedding: testEmbedding(0),
		}
		if err := repo.Insert(ctx, event); err != nil {
			t.Fatalf("Failed to insert event: %v", err)
		}
		if event.ID == 0 {
			t.Fatal("Expected event ID to be assigned")
		}
		if event.CapturedAt.IsZero() {
			t.Error("Expected CapturedAt to be filled in")
		}

		got, err := repo.Get(ctx, event.ID)
		if err != nil {
			t.Fatalf("Failed to get event: %v", err)
		}
		if got == nil {
			t.Fatal("Expected event, got nil")
		}
		if got.Identity != "anna-novak" {
			t.Errorf("Expected identity 'anna-novak', got '%s'", got.Identity)
		}
		if got.Similarity < 0.80 || got.Similarity > 0.82 {
			t.Errorf("Expected similarity ~0.81, got %f", got.Similarity)
		}
	})

	t.Run("InsertMismatchedProbeStoresNull", func(t *testing.T) {
		event := &database.AttendanceEvent{
			Identity:       "anna-novak",
			SessionKey:     "2026-03-02/cs101",
			View:           "front",
			Similarity:     0.55,
			EngineMode:     "cascade-fallback",
			ProbeEmbedding: make([]float32, 64),
		}
		if err := repo.Insert(ctx, event); err != nil {
			t.Fatalf("Failed to insert event with mismatched probe: %v", err)
		}

		got, err := repo.Get(ctx, event.ID)
		if err != nil {
			t.Fatalf("Failed to get event: %v", err)
		}
		if got == nil {
			t.Fatal("Expected event, got nil")
		}
	})

	t.Run("ListFilters", func(t *testing.T) {
		base := time.Now().Add(-time.Hour)
		for i := 0; i < 3; i++ {
			repo.Insert(ctx, &database.AttendanceEvent{
				Identity:   "ben-okafor",
				SessionKey: "2026-03-02/ma201",
				Similarity: 0.7,
				EngineMode: "sface-remote",
				CapturedAt: base.Add(time.Duration(i) * time.Minute),
			})
		}

		events, err := repo.List(ctx, database.EventFilter{Identity: "ben-okafor"})
		if err != nil {
			t.Fatalf("Failed to list events: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("Expected 3 events, got %d", len(events))
		}
		for i := 1; i < len(events); i++ {
			if events[i].CapturedAt.After(events[i-1].CapturedAt) {
				t.Error("Events not ordered newest first")
			}
		}

		events, err = repo.List(ctx, database.EventFilter{
			SessionKey: "2026-03-02/ma201",
			Since:      base.Add(90 * time.Second),
		})
		if err != nil {
			t.Fatalf("Failed to list events: %v", err)
		}
		if len(events) != 1 {
			t.Errorf("Expected 1 event after since filter, got %d", len(events))
		}

		events, err = repo.List(ctx, database.EventFilter{Limit: 2})
		if err != nil {
			t.Fatalf("Failed to list events: %v", err)
		}
		if len(events) != 2 {
			t.Errorf("Expected limit of 2, got %d", len(events))
		}
	})

	t.Run("LastForIdentity", func(t *testing.T) {
		last, err := repo.LastForIdentity(ctx, "ben-okafor", "2026-03-02/ma201")
		if err != nil {
			t.Fatalf("Failed to get last event: %v", err)
		}
		if last == nil {
			t.Fatal("Expected last event, got nil")
		}

		last, err = repo.LastForIdentity(ctx, "nobody", "2026-03-02/ma201")
		if err != nil {
			t.Fatalf("Failed to get last event: %v", err)
		}
		if last != nil {
			t.Errorf("Expected nil for absent identity, got %+v", last)
		}
	})

	t.Run("FindSimilar", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			repo.Insert(ctx, &database.AttendanceEvent{
				Identity:       fmt.Sprintf("probe-%d", i),
				SessionKey:     "2026-03-03/cs101",
				Similarity:     0.7,
				EngineMode:     "sface-remote",
				ProbeEmbedding: testEmbedding(i * 10),
			})
		}

		events, distances, err := repo.FindSimilar(ctx, testEmbedding(0), 3)
		if err != nil {
			t.Fatalf("Failed to find similar: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("Expected 3 results, got %d", len(events))
		}
		if len(events) != len(distances) {
			t.Fatalf("Results and distances length mismatch: %d vs %d", len(events), len(distances))
		}
		for i := 1; i < len(distances); i++ {
			if distances[i] < distances[i-1] {
				t.Error("Distances not sorted ascending")
			}
		}

		_, _, err = repo.FindSimilar(ctx, make([]float32, 64), 3)
		if err == nil {
			t.Error("Expected error for mismatched query dimension")
		}
	})

	t.Run("ProbeEmbedding", func(t *testing.T) {
		event := &database.AttendanceEvent{
			Identity:       "probe-roundtrip",
			SessionKey:     "2026-03-03/cs101",
			EngineMode:     "sface-remote",
			ProbeEmbedding: testEmbedding(7),
		}
		if err := repo.Insert(ctx, event); err != nil {
			t.Fatalf("Failed to insert event: %v", err)
		}

		probe, err := repo.ProbeEmbedding(ctx, event.ID)
		if err != nil {
			t.Fatalf("Failed to get probe: %v", err)
		}
		if len(probe) != database.EmbeddingDim {
			t.Fatalf("Expected %d-dim probe, got %d", database.EmbeddingDim, len(probe))
		}

		bare := &database.AttendanceEvent{
			Identity:   "probe-less",
			SessionKey: "2026-03-03/cs101",
			EngineMode: "pigo-local",
		}
		if err := repo.Insert(ctx, bare); err != nil {
			t.Fatalf("Failed to insert event: %v", err)
		}
		probe, err = repo.ProbeEmbedding(ctx, bare.ID)
		if err != nil {
			t.Fatalf("Failed to get probe: %v", err)
		}
		if probe != nil {
			t.Errorf("Expected nil probe for probe-less event, got %d values", len(probe))
		}
	})
}

func TestDisputeRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	events := NewEventRepository(pool)
	repo := NewDisputeRepository(pool)

	event := &database.AttendanceEvent{
		Identity:   "anna-novak",
		SessionKey: "2026-03-02/cs101",
		Similarity: 0.45,
		EngineMode: "sface-remote",
	}
	if err := events.Insert(ctx, event); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}

	t.Run("OpenAndGet", func(t *testing.T) {
		dispute := &database.Dispute{
			EventID:  event.ID,
			Identity: "anna-novak",
			Reason:   "marked absent but attended",
		}
		if err := repo.Open(ctx, dispute); err != nil {
			t.Fatalf("Failed to open dispute: %v", err)
		}
		if dispute.ID == 0 {
			t.Fatal("Expected dispute ID to be assigned")
		}

		got, err := repo.Get(ctx, dispute.ID)
		if err != nil {
			t.Fatalf("Failed to get dispute: %v", err)
		}
		if got == nil {
			t.Fatal("Expected dispute, got nil")
		}
		if got.Status != database.DisputeOpen {
			t.Errorf("Expected status 'open', got '%s'", got.Status)
		}
		if got.ResolvedAt != nil {
			t.Error("Expected nil ResolvedAt for open dispute")
		}
	})

	t.Run("ListByStatus", func(t *testing.T) {
		open, err := repo.List(ctx, database.DisputeOpen)
		if err != nil {
			t.Fatalf("Failed to list disputes: %v", err)
		}
		if len(open) != 1 {
			t.Fatalf("Expected 1 open dispute, got %d", len(open))
		}

		approved, err := repo.List(ctx, database.DisputeApproved)
		if err != nil {
			t.Fatalf("Failed to list disputes: %v", err)
		}
		if len(approved) != 0 {
			t.Errorf("Expected 0 approved disputes, got %d", len(approved))
		}
	})

	t.Run("Resolve", func(t *testing.T) {
		disputes, _ := repo.List(ctx, database.DisputeOpen)
		id := disputes[0].ID

		if err := repo.Resolve(ctx, id, database.DisputeApproved, "verified against seating chart"); err != nil {
			t.Fatalf("Failed to resolve dispute: %v", err)
		}

		got, _ := repo.Get(ctx, id)
		if got.Status != database.DisputeApproved {
			t.Errorf("Expected status 'approved', got '%s'", got.Status)
		}
		if got.Resolution != "verified against seating chart" {
			t.Errorf("Expected resolution note, got '%s'", got.Resolution)
		}
		if got.ResolvedAt == nil {
			t.Error("Expected ResolvedAt to be set")
		}

		if err := repo.Resolve(ctx, id, database.DisputeRejected, "again"); err == nil {
			t.Error("Expected error resolving a closed dispute")
		}
	})

	t.Run("ResolveValidatesStatus", func(t *testing.T) {
		if err := repo.Resolve(ctx, 1, "maybe", ""); err == nil {
			t.Error("Expected error for invalid resolution status")
		}
	})
}

func TestMirrorRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewMirrorRepository(pool)

	t.Run("UpsertReplaces", func(t *testing.T) {
		samples := [][]float32{testEmbedding(0), testEmbedding(1), testEmbedding(2)}
		if err := repo.UpsertMirror(ctx, "anna-novak", "front", samples); err != nil {
			t.Fatalf("Failed to upsert mirror: %v", err)
		}

		count, err := repo.CountMirror(ctx)
		if err != nil {
			t.Fatalf("Failed to count mirror: %v", err)
		}
		if count != 3 {
			t.Errorf("Expected 3 mirrored samples, got %d", count)
		}

		if err := repo.UpsertMirror(ctx, "anna-novak", "front", samples[:2]); err != nil {
			t.Fatalf("Failed to re-upsert mirror: %v", err)
		}
		count, _ = repo.CountMirror(ctx)
		if count != 2 {
			t.Errorf("Expected replacement to leave 2 samples, got %d", count)
		}
	})

	t.Run("UpsertRejectsBadDimension", func(t *testing.T) {
		err := repo.UpsertMirror(ctx, "anna-novak", "left", [][]float32{make([]float32, 64)})
		if err == nil {
			t.Error("Expected error for mismatched sample dimension")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo.UpsertMirror(ctx, "anna-novak", "left", [][]float32{testEmbedding(5)})

		if err := repo.DeleteMirror(ctx, "anna-novak"); err != nil {
			t.Fatalf("Failed to delete mirror: %v", err)
		}
		count, _ := repo.CountMirror(ctx)
		if count != 0 {
			t.Errorf("Expected 0 samples after delete, got %d", count)
		}
	})
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}

	expectedMigrations := []string{
		"0001_init.sql",
		"0002_embedding_mirror.sql",
	}

	if len(applied) != len(expectedMigrations) {
		t.Errorf("Expected %d migrations, got %d", len(expectedMigrations), len(applied))
	}

	for i, expected := range expectedMigrations {
		if i < len(applied) && applied[i] != expected {
			t.Errorf("Migration %d: expected '%s', got '%s'", i, expected, applied[i])
		}
	}
}
