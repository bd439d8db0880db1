package database

import (
	"context"
	"time"
)

// IdentityStore persists enrolled identities.
type IdentityStore interface {
	// Upsert inserts or updates an identity by ID.
	Upsert(ctx context.Context, identity Identity) error
	// Get retrieves an identity, nil when not found.
	Get(ctx context.Context, id string) (*Identity, error)
	// List returns all identities ordered by ID.
	List(ctx context.Context) ([]Identity, error)
	// Delete removes an identity; deleting an absent ID is not an error.
	Delete(ctx context.Context, id string) error
	// Count returns the number of identities.
	Count(ctx context.Context) (int, error)
}

// EventStore persists accepted attendance marks.
type EventStore interface {
	// Insert stores an event and fills in its assigned ID.
	Insert(ctx context.Context, event *AttendanceEvent) error
	// Get retrieves an event, nil when not found.
	Get(ctx context.Context, id int64) (*AttendanceEvent, error)
	// List returns events matching the filter, newest first.
	List(ctx context.Context, filter EventFilter) ([]AttendanceEvent, error)
	// LastForIdentity returns the most recent event for an identity within
	// a session key, nil when none exists. Serves the cooldown check.
	LastForIdentity(ctx context.Context, identity, sessionKey string) (*AttendanceEvent, error)
	// FindSimilar returns events whose stored probe embedding is closest to
	// the given vector by cosine distance, with the distances.
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]AttendanceEvent, []float64, error)
	// ProbeEmbedding returns the stored probe for an event, nil when the
	// event is missing or was recorded without one.
	ProbeEmbedding(ctx context.Context, id int64) ([]float32, error)
	// Count returns the number of events.
	Count(ctx context.Context) (int, error)
}

// DisputeStore persists contested attendance events.
type DisputeStore interface {
	// Open files a dispute and fills in its assigned ID.
	Open(ctx context.Context, dispute *Dispute) error
	// Get retrieves a dispute, nil when not found.
	Get(ctx context.Context, id int64) (*Dispute, error)
	// List returns disputes, optionally filtered by status, newest first.
	List(ctx context.Context, status string) ([]Dispute, error)
	// Resolve closes an open dispute with a final status and note. Resolving
	// a dispute that is not open is an error.
	Resolve(ctx context.Context, id int64, status, resolution string) error
}

// MirrorStore keeps a queryable copy of the filesystem embedding store.
// The mirror is an audit convenience; the filesystem remains authoritative.
type MirrorStore interface {
	// UpsertMirror replaces all mirrored samples for one (identity, view).
	UpsertMirror(ctx context.Context, identity, view string, samples [][]float32) error
	// DeleteMirror removes all mirrored samples for an identity.
	DeleteMirror(ctx context.Context, identity string) error
	// CountMirror returns the number of mirrored samples.
	CountMirror(ctx context.Context) (int, error)
}

// RosterReader reads the campus student information system.
type RosterReader interface {
	// Students returns the current roster.
	Students(ctx context.Context) ([]Student, error)
}

// CooldownWindow is the default re-mark suppression window per identity and
// session key.
const CooldownWindow = 5 * time.Minute
