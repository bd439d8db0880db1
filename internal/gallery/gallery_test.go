package gallery

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/store"
)

func slot(identity, view string, samples ...[]float32) store.Slot {
	return store.Slot{Identity: identity, View: view, Samples: samples}
}

func TestBuildSortsAndNormalizes(t *testing.T) {
	g := Build([]store.Slot{
		slot("bob", "front", []float32{0, 3, 0, 0}),
		slot("alice", "left", []float32{0, 0, 5, 0}),
		slot("alice", "front", []float32{2, 0, 0, 0}, []float32{0, 0, 0, 4}),
	}, zap.NewNop())

	if g.Dim != 4 {
		t.Errorf("Dim = %d, want 4", g.Dim)
	}
	if g.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", g.Len())
	}

	wantOrder := []struct{ identity, view string }{
		{"alice", "front"},
		{"alice", "front"},
		{"alice", "left"},
		{"bob", "front"},
	}
	for i, want := range wantOrder {
		e := g.Entries[i]
		if e.Identity != want.identity || e.View != want.view {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, e.Identity, e.View, want.identity, want.view)
		}
	}

	for i, e := range g.Entries {
		var sum float64
		for _, x := range e.Vector {
			sum += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(sum)-1) > 1e-5 {
			t.Errorf("entry %d norm = %v, want 1", i, math.Sqrt(sum))
		}
	}
}

func TestBuildSkipsMismatchedDimensions(t *testing.T) {
	g := Build([]store.Slot{
		slot("alice", "front", []float32{1, 0, 0, 0}),
		slot("bob", "front", []float32{1, 0, 0, 0, 0, 0, 0, 0}),
	}, zap.NewNop())

	if g.Dim != 4 {
		t.Errorf("Dim = %d, want 4", g.Dim)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after skipping mismatched slot", g.Len())
	}
}

func TestBuildEmpty(t *testing.T) {
	g := Build(nil, zap.NewNop())

	if g.Len() != 0 || g.Dim != 0 {
		t.Errorf("empty gallery = %s, want no entries", g)
	}
	if got := g.Neighbors([]float32{1, 0}, 3); got != nil {
		t.Errorf("Neighbors() on empty gallery = %v, want nil", got)
	}
}

func TestIdentities(t *testing.T) {
	g := Build([]store.Slot{
		slot("carol", "front", []float32{1, 0}),
		slot("alice", "front", []float32{0, 1}),
		slot("alice", "left", []float32{1, 1}),
	}, zap.NewNop())

	ids := g.Identities()
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "carol" {
		t.Errorf("Identities() = %v, want [alice carol]", ids)
	}
}

func TestNeighbors(t *testing.T) {
	g := Build([]store.Slot{
		slot("alice", "front", []float32{1, 0, 0, 0}),
		slot("bob", "front", []float32{0, 1, 0, 0}),
		slot("carol", "front", []float32{0, 0, 1, 0}),
	}, zap.NewNop())

	got := g.Neighbors([]float32{0.9, 0.1, 0, 0}, 2)
	if len(got) != 2 {
		t.Fatalf("Neighbors() returned %d results, want 2", len(got))
	}
	if got[0].Identity != "alice" {
		t.Errorf("nearest neighbor = %s, want alice", got[0].Identity)
	}
	if got[0].Similarity < 0.9 {
		t.Errorf("nearest similarity = %v, want > 0.9", got[0].Similarity)
	}
}

func TestCacheReusesSnapshotUntilStoreChanges(t *testing.T) {
	root := t.TempDir()
	st := store.New(root, 0, zap.NewNop())
	cache := NewCache(zap.NewNop())

	if _, err := st.Save("alice", "front", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	g1, err := cache.Get(st)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	g2, err := cache.Get(st)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if g1 != g2 {
		t.Error("Get() rebuilt gallery although store is unchanged")
	}

	if _, err := st.Save("bob", "front", []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Force a token move even on filesystems with coarse mtime granularity.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(root, "bob", "front.emb"), future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	g3, err := cache.Get(st)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if g3 == g1 {
		t.Error("Get() returned stale gallery after store change")
	}
	if g3.Len() != 2 {
		t.Errorf("rebuilt gallery Len() = %d, want 2", g3.Len())
	}
}

func TestCacheInvalidateForcesRebuild(t *testing.T) {
	st := store.New(t.TempDir(), 0, zap.NewNop())
	cache := NewCache(zap.NewNop())

	if _, err := st.Save("alice", "front", []float32{1, 0}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	g1, err := cache.Get(st)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	cache.Invalidate(st.Root())

	g2, err := cache.Get(st)
	if err != nil {
		t.Fatalf("Get() after Invalidate() error = %v", err)
	}
	if g1 == g2 {
		t.Error("Get() reused snapshot after Invalidate()")
	}
	if g2.Len() != g1.Len() {
		t.Errorf("rebuilt gallery Len() = %d, want %d", g2.Len(), g1.Len())
	}
}

func TestCacheKeysByRoot(t *testing.T) {
	stA := store.New(t.TempDir(), 0, zap.NewNop())
	stB := store.New(t.TempDir(), 0, zap.NewNop())
	cache := NewCache(zap.NewNop())

	if _, err := stA.Save("alice", "front", []float32{1, 0}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := stB.Save("bob", "front", []float32{0, 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := stB.Save("carol", "front", []float32{1, 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	gA, err := cache.Get(stA)
	if err != nil {
		t.Fatalf("Get(A) error = %v", err)
	}
	gB, err := cache.Get(stB)
	if err != nil {
		t.Fatalf("Get(B) error = %v", err)
	}

	if gA.Len() != 1 {
		t.Errorf("gallery A Len() = %d, want 1", gA.Len())
	}
	if gB.Len() != 2 {
		t.Errorf("gallery B Len() = %d, want 2", gB.Len())
	}
}
