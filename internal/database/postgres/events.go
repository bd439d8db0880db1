package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/campusware/rollcall/internal/database"
)

const (
	defaultEventListLimit = 100
	maxEventListLimit     = 1000
)

// eventColumns is the scan set shared by all event queries. The probe
// embedding is write-only: it feeds the similarity index but is never read
// back into the struct.
const eventColumns = `id, identity, session_key, view, similarity, liveness_score, engine_mode, captured_at`

// EventRepository provides PostgreSQL-backed attendance event storage.
type EventRepository struct {
	pool *Pool
}

// NewEventRepository creates a new PostgreSQL event repository.
func NewEventRepository(pool *Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Insert stores an event and fills in its assigned ID. The probe embedding
// is persisted only when it matches the storage column dimension; the
// degraded cascade engine's vectors are stored as NULL.
func (r *EventRepository) Insert(ctx context.Context, event *database.AttendanceEvent) error {
	if event.Identity == "" {
		return errors.New("event identity is required")
	}
	if event.CapturedAt.IsZero() {
		event.CapturedAt = time.Now()
	}

	var probe any
	if len(event.ProbeEmbedding) == database.EmbeddingDim {
		probe = pgvector.NewVector(event.ProbeEmbedding)
	}

	query := `
		INSERT INTO attendance_events
			(identity, session_key, view, similarity, liveness_score, engine_mode, probe_embedding, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		event.Identity,
		event.SessionKey,
		event.View,
		event.Similarity,
		event.LivenessScore,
		event.EngineMode,
		probe,
		event.CapturedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Get retrieves an event by ID, returns nil if not found.
func (r *EventRepository) Get(ctx context.Context, id int64) (*database.AttendanceEvent, error) {
	query := "SELECT " + eventColumns + " FROM attendance_events WHERE id = $1"

	event, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return event, nil
}

// List returns events matching the filter, newest first.
func (r *EventRepository) List(ctx context.Context, filter database.EventFilter) ([]database.AttendanceEvent, error) {
	var conditions []string
	var args []any

	if filter.Identity != "" {
		args = append(args, filter.Identity)
		conditions = append(conditions, fmt.Sprintf("identity = $%d", len(args)))
	}
	if filter.SessionKey != "" {
		args = append(args, filter.SessionKey)
		conditions = append(conditions, fmt.Sprintf("session_key = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("captured_at >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventListLimit
	}
	if limit > maxEventListLimit {
		limit = maxEventListLimit
	}
	args = append(args, limit)

	query := "SELECT " + eventColumns + " FROM attendance_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY captured_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastForIdentity returns the most recent event for an identity within a
// session key, nil when none exists.
func (r *EventRepository) LastForIdentity(ctx context.Context, identity, sessionKey string) (*database.AttendanceEvent, error) {
	query := "SELECT " + eventColumns + ` FROM attendance_events
		WHERE identity = $1 AND session_key = $2
		ORDER BY captured_at DESC
		LIMIT 1`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, identity, sessionKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last event: %w", err)
	}
	return event, nil
}

// FindSimilar returns events whose stored probe embedding is closest to the
// given vector by cosine distance, with the distances.
func (r *EventRepository) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.AttendanceEvent, []float64, error) {
	if len(embedding) != database.EmbeddingDim {
		return nil, nil, fmt.Errorf("embedding dimension %d does not match storage dimension %d",
			len(embedding), database.EmbeddingDim)
	}
	if limit <= 0 {
		limit = defaultEventListLimit
	}

	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := "SELECT " + eventColumns + `,
			probe_embedding <=> $1::vector AS distance
		FROM attendance_events
		WHERE probe_embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2`

	rows, err := tx.QueryContext(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar events: %w", err)
	}
	defer rows.Close()

	var events []database.AttendanceEvent
	var distances []float64
	for rows.Next() {
		var event database.AttendanceEvent
		var dist float64
		if err := rows.Scan(
			&event.ID,
			&event.Identity,
			&event.SessionKey,
			&event.View,
			&event.Similarity,
			&event.LivenessScore,
			&event.EngineMode,
			&event.CapturedAt,
			&dist,
		); err != nil {
			return nil, nil, fmt.Errorf("scan similar event: %w", err)
		}
		events = append(events, event)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate similar events: %w", err)
	}
	return events, distances, nil
}

// ProbeEmbedding returns the stored probe for an event. The NULL filter in
// the query keeps the vector scan away from probe-less events.
func (r *EventRepository) ProbeEmbedding(ctx context.Context, id int64) ([]float32, error) {
	var probe pgvector.Vector
	err := r.pool.QueryRow(ctx,
		"SELECT probe_embedding FROM attendance_events WHERE id = $1 AND probe_embedding IS NOT NULL",
		id,
	).Scan(&probe)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get probe embedding: %w", err)
	}
	return probe.Slice(), nil
}

// Count returns the number of events.
func (r *EventRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_events").Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*database.AttendanceEvent, error) {
	var event database.AttendanceEvent
	err := row.Scan(
		&event.ID,
		&event.Identity,
		&event.SessionKey,
		&event.View,
		&event.Similarity,
		&event.LivenessScore,
		&event.EngineMode,
		&event.CapturedAt,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]database.AttendanceEvent, error) {
	var events []database.AttendanceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
