package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campusware/rollcall/internal/database"
)

// DisputeRepository provides PostgreSQL-backed dispute storage.
type DisputeRepository struct {
	pool *Pool
}

// NewDisputeRepository creates a new PostgreSQL dispute repository.
func NewDisputeRepository(pool *Pool) *DisputeRepository {
	return &DisputeRepository{pool: pool}
}

// Open files a dispute against an attendance event and fills in its ID.
func (r *DisputeRepository) Open(ctx context.Context, dispute *database.Dispute) error {
	if dispute.EventID == 0 {
		return errors.New("dispute event ID is required")
	}
	if dispute.Identity == "" {
		return errors.New("dispute identity is required")
	}
	if dispute.CreatedAt.IsZero() {
		dispute.CreatedAt = time.Now()
	}
	dispute.Status = database.DisputeOpen

	query := `
		INSERT INTO disputes (event_id, identity, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		dispute.EventID,
		dispute.Identity,
		dispute.Reason,
		dispute.Status,
		dispute.CreatedAt,
	).Scan(&dispute.ID)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

// Get retrieves a dispute by ID, returns nil if not found.
func (r *DisputeRepository) Get(ctx context.Context, id int64) (*database.Dispute, error) {
	query := `
		SELECT id, event_id, identity, reason, status, resolution, created_at, resolved_at
		FROM disputes
		WHERE id = $1
	`
	dispute, err := scanDispute(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query dispute: %w", err)
	}
	return dispute, nil
}

// List returns disputes newest first, optionally filtered by status.
func (r *DisputeRepository) List(ctx context.Context, status string) ([]database.Dispute, error) {
	query := `
		SELECT id, event_id, identity, reason, status, resolution, created_at, resolved_at
		FROM disputes
	`
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query disputes: %w", err)
	}
	defer rows.Close()

	var disputes []database.Dispute
	for rows.Next() {
		dispute, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		disputes = append(disputes, *dispute)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disputes: %w", err)
	}
	return disputes, nil
}

// Resolve closes an open dispute with a final status and resolution note.
// Only open disputes can be resolved.
func (r *DisputeRepository) Resolve(ctx context.Context, id int64, status, resolution string) error {
	if status != database.DisputeApproved && status != database.DisputeRejected {
		return fmt.Errorf("invalid resolution status %q", status)
	}

	query := `
		UPDATE disputes
		SET status = $1, resolution = $2, resolved_at = $3
		WHERE id = $4 AND status = $5
	`
	result, err := r.pool.Exec(ctx, query, status, resolution, time.Now(), id, database.DisputeOpen)
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check resolve result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("dispute %d is not open", id)
	}
	return nil
}

func scanDispute(row rowScanner) (*database.Dispute, error) {
	var dispute database.Dispute
	var resolution sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&dispute.ID,
		&dispute.EventID,
		&dispute.Identity,
		&dispute.Reason,
		&dispute.Status,
		&resolution,
		&dispute.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolution.Valid {
		dispute.Resolution = resolution.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		dispute.ResolvedAt = &t
	}
	return &dispute, nil
}
