// Package tracker follows face detections across consecutive frames so a
// live session can attribute repeated recognitions to one person.
package tracker

import (
	"math"
	"sort"

	"github.com/campusware/rollcall/internal/pipeline"
)

const (
	// DefaultMaxDistance is how far a centroid may move between frames and
	// still count as the same track, in pixels.
	DefaultMaxDistance = 90

	// DefaultMaxMissed is the number of consecutive frames a track may go
	// undetected before it expires.
	DefaultMaxMissed = 10
)

// Track is one face followed across frames.
type Track struct {
	ID     int
	Box    pipeline.Box
	Frames int // frames the face was detected in
	Missed int // consecutive frames without a detection
}

// Centroid returns the center of the track's last box.
func (t *Track) Centroid() (float32, float32) {
	return (t.Box.X1 + t.Box.X2) / 2, (t.Box.Y1 + t.Box.Y2) / 2
}

// Tracker assigns per-frame detections to persistent tracks by greedy
// nearest-centroid matching. It is not safe for concurrent use; live
// sessions drive one tracker each from a single goroutine at a time.
type Tracker struct {
	maxDist float64
	maxMiss int
	nextID  int
	tracks  []*Track
}

// New creates a tracker. Non-positive arguments fall back to the defaults.
func New(maxDist float64, maxMiss int) *Tracker {
	if maxDist <= 0 {
		maxDist = DefaultMaxDistance
	}
	if maxMiss <= 0 {
		maxMiss = DefaultMaxMissed
	}
	return &Tracker{maxDist: maxDist, maxMiss: maxMiss, nextID: 1}
}

type candidate struct {
	track int
	box   int
	dist  float64
}

// Update advances the tracker by one frame. The returned slice is index
// aligned with boxes: assigned[i] is the track detection i belongs to,
// freshly created when no existing track is close enough. Tracks missing
// for too many consecutive frames are dropped and their IDs returned so
// callers can discard per-track state.
func (t *Tracker) Update(boxes []pipeline.Box) (assigned []*Track, expired []int) {
	assigned = make([]*Track, len(boxes))
	matched := make([]bool, len(t.tracks))
	taken := make([]bool, len(boxes))

	candidates := make([]candidate, 0, len(t.tracks)*len(boxes))
	for ti, tr := range t.tracks {
		cx, cy := tr.Centroid()
		for bi := range boxes {
			bx := (boxes[bi].X1 + boxes[bi].X2) / 2
			by := (boxes[bi].Y1 + boxes[bi].Y2) / 2
			d := math.Hypot(float64(bx-cx), float64(by-cy))
			if d <= t.maxDist {
				candidates = append(candidates, candidate{track: ti, box: bi, dist: d})
			}
		}
	}
	// Closest pair wins; ties break on track then box index so repeated
	// runs assign identically.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		if candidates[i].track != candidates[j].track {
			return candidates[i].track < candidates[j].track
		}
		return candidates[i].box < candidates[j].box
	})

	for _, c := range candidates {
		if matched[c.track] || taken[c.box] {
			continue
		}
		matched[c.track] = true
		taken[c.box] = true
		tr := t.tracks[c.track]
		tr.Box = boxes[c.box]
		tr.Frames++
		tr.Missed = 0
		assigned[c.box] = tr
	}

	kept := t.tracks[:0]
	for ti, tr := range t.tracks {
		if !matched[ti] {
			tr.Missed++
			if tr.Missed >= t.maxMiss {
				expired = append(expired, tr.ID)
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	for bi := range boxes {
		if assigned[bi] != nil {
			continue
		}
		tr := &Track{ID: t.nextID, Box: boxes[bi], Frames: 1}
		t.nextID++
		t.tracks = append(t.tracks, tr)
		assigned[bi] = tr
	}

	return assigned, expired
}

// Active returns the tracks currently being followed.
func (t *Tracker) Active() []*Track {
	out := make([]*Track, len(t.tracks))
	copy(out, t.tracks)
	return out
}
