package database

import "time"

// Dispute lifecycle statuses.
const (
	DisputeOpen     = "open"
	DisputeApproved = "approved"
	DisputeRejected = "rejected"
)

// Identity is an enrolled person. ID doubles as the embedding store
// directory name, so it stays a filesystem-safe slug.
type Identity struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AttendanceEvent is one accepted attendance mark. ProbeEmbedding keeps the
// query vector that produced the match for later forensics; it is dropped
// when the engine dimension does not fit the storage column.
type AttendanceEvent struct {
	ID             int64     `json:"id"`
	Identity       string    `json:"identity"`
	SessionKey     string    `json:"session_key"`
	View           string    `json:"view"`
	Similarity     float32   `json:"similarity"`
	LivenessScore  float64   `json:"liveness_score"`
	EngineMode     string    `json:"engine_mode"`
	ProbeEmbedding []float32 `json:"-"`
	CapturedAt     time.Time `json:"captured_at"`
}

// EventFilter narrows event listings. Zero fields match everything.
type EventFilter struct {
	Identity   string
	SessionKey string
	Since      time.Time
	Limit      int
}

// Dispute is a contested attendance event. Status moves from open to
// approved or rejected exactly once; Resolution carries the reviewer's note.
type Dispute struct {
	ID         int64      `json:"id"`
	EventID    int64      `json:"event_id"`
	Identity   string     `json:"identity"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	Resolution string     `json:"resolution,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Student is one row from the campus student information system.
type Student struct {
	ExternalRef string `json:"external_ref"`
	FullName    string `json:"full_name"`
	Program     string `json:"program,omitempty"`
	Enrolled    bool   `json:"enrolled"`
}
