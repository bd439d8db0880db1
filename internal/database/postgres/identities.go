package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/campusware/rollcall/internal/database"
)

// IdentityRepository provides PostgreSQL-backed identity storage.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Upsert inserts or updates an identity by ID.
func (r *IdentityRepository) Upsert(ctx context.Context, identity database.Identity) error {
	if identity.ID == "" {
		return errors.New("identity ID is required")
	}

	query := `
		INSERT INTO identities (id, display_name, external_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			external_ref = EXCLUDED.external_ref
	`
	if _, err := r.pool.Exec(ctx, query, identity.ID, identity.DisplayName, identity.ExternalRef); err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}

// Get retrieves an identity by ID, returns nil if not found.
func (r *IdentityRepository) Get(ctx context.Context, id string) (*database.Identity, error) {
	query := `
		SELECT id, display_name, external_ref, created_at
		FROM identities
		WHERE id = $1
	`

	var identity database.Identity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&identity.ID,
		&identity.DisplayName,
		&identity.ExternalRef,
		&identity.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return &identity, nil
}

// List returns all identities ordered by ID.
func (r *IdentityRepository) List(ctx context.Context) ([]database.Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, external_ref, created_at
		FROM identities
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []database.Identity
	for rows.Next() {
		var identity database.Identity
		if err := rows.Scan(
			&identity.ID,
			&identity.DisplayName,
			&identity.ExternalRef,
			&identity.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// Delete removes an identity. Deleting an absent ID is not an error.
func (r *IdentityRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

// Count returns the number of identities.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}
