package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/campusware/rollcall/internal/database"
)

// MirrorRepository pushes on-disk gallery embeddings into PostgreSQL so that
// fleet-wide similarity queries can run against pgvector.
type MirrorRepository struct {
	pool *Pool
}

// NewMirrorRepository creates a new PostgreSQL mirror repository.
func NewMirrorRepository(pool *Pool) *MirrorRepository {
	return &MirrorRepository{pool: pool}
}

// UpsertMirror replaces all mirrored samples for an identity and view with
// the given set. The swap is transactional so readers never observe a
// partially replaced slot.
func (r *MirrorRepository) UpsertMirror(ctx context.Context, identity, view string, samples [][]float32) error {
	if identity == "" || view == "" {
		return fmt.Errorf("identity and view are required")
	}
	for i, sample := range samples {
		if len(sample) != database.EmbeddingDim {
			return fmt.Errorf("sample %d dimension %d does not match storage dimension %d",
				i, len(sample), database.EmbeddingDim)
		}
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM embedding_mirror WHERE identity = $1 AND view = $2",
		identity, view,
	); err != nil {
		return fmt.Errorf("clear mirror slot: %w", err)
	}

	now := time.Now()
	for i, sample := range samples {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO embedding_mirror (identity, view, sample_idx, embedding, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			identity, view, i, pgvector.NewVector(sample), now,
		); err != nil {
			return fmt.Errorf("insert mirror sample %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mirror upsert: %w", err)
	}
	return nil
}

// DeleteMirror removes all mirrored samples for an identity.
func (r *MirrorRepository) DeleteMirror(ctx context.Context, identity string) error {
	if _, err := r.pool.Exec(ctx,
		"DELETE FROM embedding_mirror WHERE identity = $1", identity,
	); err != nil {
		return fmt.Errorf("delete mirror: %w", err)
	}
	return nil
}

// CountMirror returns the number of mirrored samples.
func (r *MirrorRepository) CountMirror(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM embedding_mirror").Scan(&count); err != nil {
		return 0, fmt.Errorf("count mirror: %w", err)
	}
	return count, nil
}
