// Package match ranks gallery entries against a probe vector by cosine
// similarity. Best is an exact scan, not an ANN lookup: attendance decisions
// must be reproducible, and the gallery's sorted order gives ties a stable
// winner.
package match

import (
	"sort"

	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/vector"
)

// DefaultThreshold is the accept threshold for cosine similarity. Probes
// scoring below it are reported as unmatched.
const DefaultThreshold float32 = 0.40

// Result is one ranked gallery hit. An empty identity with similarity -1
// means nothing could be ranked (empty gallery or unusable probe).
type Result struct {
	Identity   string  `json:"identity"`
	View       string  `json:"view"`
	Similarity float32 `json:"similarity"`
}

// Accepted reports whether the result clears the similarity threshold.
// The boundary value itself accepts.
func (r Result) Accepted(threshold float32) bool {
	return r.Identity != "" && r.Similarity >= threshold
}

// Best returns the single highest-similarity entry. Entries are scanned in
// the gallery's sorted (identity, view) order and only a strictly greater
// similarity displaces the current best, so ties resolve to the lowest
// (identity, view) pair. A dimension-mismatched probe cannot be ranked.
func Best(g *gallery.Gallery, probe []float32) Result {
	if g == nil || g.Len() == 0 || len(probe) != g.Dim {
		return Result{Similarity: -1}
	}

	p := vector.Normalize(probe)
	best := Result{
		Identity:   g.Entries[0].Identity,
		View:       g.Entries[0].View,
		Similarity: vector.Dot(p, g.Entries[0].Vector),
	}
	for _, e := range g.Entries[1:] {
		if sim := vector.Dot(p, e.Vector); sim > best.Similarity {
			best = Result{Identity: e.Identity, View: e.View, Similarity: sim}
		}
	}
	return best
}

// TopK returns the k best entries in descending similarity, ties in
// ascending (identity, view) order. For k below the gallery size the
// candidates are found by partial selection, so the cost is linear in the
// gallery plus k log k for the final ordering.
func TopK(g *gallery.Gallery, probe []float32, k int) []Result {
	if g == nil || g.Len() == 0 || k <= 0 || len(probe) != g.Dim {
		return nil
	}

	p := vector.Normalize(probe)
	sims := make([]float32, g.Len())
	for i, e := range g.Entries {
		sims[i] = vector.Dot(p, e.Vector)
	}

	// Entry indexes follow (identity, view) order, so a lower index wins ties.
	better := func(a, b int) bool {
		if sims[a] != sims[b] {
			return sims[a] > sims[b]
		}
		return a < b
	}

	idx := make([]int, g.Len())
	for i := range idx {
		idx[i] = i
	}

	if k < len(idx) {
		selectTop(idx, k, better)
		idx = idx[:k]
	}
	sort.Slice(idx, func(i, j int) bool { return better(idx[i], idx[j]) })

	results := make([]Result, len(idx))
	for i, j := range idx {
		e := g.Entries[j]
		results[i] = Result{Identity: e.Identity, View: e.View, Similarity: sims[j]}
	}
	return results
}

// selectTop partially orders idx so that the k best elements (by better)
// occupy idx[:k] in unspecified order.
func selectTop(idx []int, k int, better func(a, b int) bool) {
	lo, hi := 0, len(idx)-1
	for lo < hi {
		p := partition(idx, lo, hi, better)
		switch {
		case p == k-1:
			return
		case p < k-1:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
}

// partition places a median-of-three pivot at its final rank and returns
// that rank. Elements better than the pivot end up to its left.
func partition(idx []int, lo, hi int, better func(a, b int) bool) int {
	mid := lo + (hi-lo)/2
	if better(idx[mid], idx[lo]) {
		idx[lo], idx[mid] = idx[mid], idx[lo]
	}
	if better(idx[hi], idx[lo]) {
		idx[lo], idx[hi] = idx[hi], idx[lo]
	}
	if better(idx[mid], idx[hi]) {
		idx[mid], idx[hi] = idx[hi], idx[mid]
	}

	pivot := idx[hi]
	i := lo
	for j := lo; j < hi; j++ {
		if better(idx[j], pivot) {
			idx[i], idx[j] = idx[j], idx[i]
			i++
		}
	}
	idx[i], idx[hi] = idx[hi], idx[i]
	return i
}
