package mariadb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/campusware/rollcall/internal/database"
)

// RosterRepository reads the student roster from the SIS schema. The bridge
// never writes; enrollment stays owned by the registrar's office.
type RosterRepository struct {
	pool *Pool
}

// NewRosterRepository creates a roster reader over an SIS pool.
func NewRosterRepository(pool *Pool) *RosterRepository {
	return &RosterRepository{pool: pool}
}

// Students returns the current roster ordered by student number.
func (r *RosterRepository) Students(ctx context.Context) ([]database.Student, error) {
	query := `
		SELECT student_no, full_name, program, enrolled
		FROM students
		ORDER BY student_no
	`

	rows, err := r.pool.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var students []database.Student
	for rows.Next() {
		var s database.Student
		var program sql.NullString
		if err := rows.Scan(&s.ExternalRef, &s.FullName, &program, &s.Enrolled); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		if program.Valid {
			s.Program = program.String
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}
