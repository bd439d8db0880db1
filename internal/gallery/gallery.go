// Package gallery builds the in-memory match gallery from the embedding
// store and caches it between requests. A gallery is an immutable snapshot:
// the cache hands out the same pointer until the store's latest modification
// time changes, then rebuilds under a per-root lock.
package gallery

import (
	"fmt"
	"sort"
	"time"

	"github.com/coder/hnsw"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/store"
	"github.com/campusware/rollcall/internal/vector"
)

const (
	// graphMaxNeighbors is the HNSW M parameter for the side index.
	graphMaxNeighbors = 16
)

// Entry is one gallery row: a single normalized sample labeled with its
// identity and pose view.
type Entry struct {
	Identity string
	View     string
	Vector   []float32
}

// Gallery is a point-in-time snapshot of all enrolled samples. Entries are
// sorted by (identity, view) with per-slot insertion order preserved, which
// makes downstream scans deterministic. The snapshot is immutable once built.
type Gallery struct {
	Dim     int
	Entries []Entry
	BuiltAt time.Time

	graph *hnsw.Graph[int]
}

// Neighbor is one approximate nearest neighbor result.
type Neighbor struct {
	Identity   string  `json:"identity"`
	View       string  `json:"view"`
	Similarity float32 `json:"similarity"`
}

// Build assembles a gallery from store slots. The first non-empty sample
// fixes the gallery dimension; slots with a different dimension are skipped
// with a warning so one stale file cannot poison the whole gallery. Samples
// are L2-normalized on the way in.
func Build(slots []store.Slot, log *zap.Logger) *Gallery {
	if log == nil {
		log = zap.NewNop()
	}

	sorted := make([]store.Slot, len(slots))
	copy(sorted, slots)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Identity != sorted[j].Identity {
			return sorted[i].Identity < sorted[j].Identity
		}
		return sorted[i].View < sorted[j].View
	})

	g := &Gallery{BuiltAt: time.Now()}
	for _, slot := range sorted {
		if len(slot.Samples) == 0 {
			continue
		}
		if g.Dim == 0 {
			g.Dim = len(slot.Samples[0])
		}
		if len(slot.Samples[0]) != g.Dim {
			log.Warn("skipping slot with mismatched dimension",
				zap.String("identity", slot.Identity),
				zap.String("view", slot.View),
				zap.Int("slot_dim", len(slot.Samples[0])),
				zap.Int("gallery_dim", g.Dim))
			continue
		}
		for _, sample := range slot.Samples {
			g.Entries = append(g.Entries, Entry{
				Identity: slot.Identity,
				View:     slot.View,
				Vector:   vector.Normalize(sample),
			})
		}
	}

	if len(g.Entries) > 0 {
		graph := hnsw.NewGraph[int]()
		graph.M = graphMaxNeighbors
		graph.Ml = 1.0 / float64(graphMaxNeighbors)
		graph.Distance = hnsw.CosineDistance
		for i, e := range g.Entries {
			graph.Add(hnsw.MakeNode(i, e.Vector))
		}
		g.graph = graph
	}

	return g
}

// Len returns the number of gallery entries.
func (g *Gallery) Len() int {
	return len(g.Entries)
}

// Identities returns the distinct identities in the gallery, sorted.
func (g *Gallery) Identities() []string {
	var ids []string
	for _, e := range g.Entries {
		if len(ids) == 0 || ids[len(ids)-1] != e.Identity {
			ids = append(ids, e.Identity)
		}
	}
	return ids
}

// Neighbors returns up to k approximate nearest neighbors for the query.
// This is a shortlist over the HNSW side index; exact ranking belongs to the
// matcher. Similarities are recomputed exactly from the stored vectors.
func (g *Gallery) Neighbors(query []float32, k int) []Neighbor {
	if g.graph == nil || k <= 0 {
		return nil
	}

	nodes := g.graph.Search(query, k)
	neighbors := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		if n.Key < 0 || n.Key >= len(g.Entries) {
			continue
		}
		e := g.Entries[n.Key]
		neighbors = append(neighbors, Neighbor{
			Identity:   e.Identity,
			View:       e.View,
			Similarity: vector.CosineSimilarity(query, e.Vector),
		})
	}
	return neighbors
}

// String describes the snapshot for logs.
func (g *Gallery) String() string {
	return fmt.Sprintf("gallery{entries=%d dim=%d built=%s}",
		len(g.Entries), g.Dim, g.BuiltAt.Format(time.RFC3339))
}
