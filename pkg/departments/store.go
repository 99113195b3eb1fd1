// Package departments implements the department directory that role
// assignments and projects are scoped to.
package departments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rosterd/rosterd/pkg/storage/postgres"
)

var (
	ErrDepartmentNotFound = errors.New("department not found")
	ErrDuplicateCode      = errors.New("department code already in use")
)

// Department is one organizational unit. Code is the short unique handle
// used in reports and imports.
type Department struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	HeadUserID  *int64    `json:"head_user_id,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists departments.
type Store struct {
	db *sql.DB
}

// NewStore creates a department store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const departmentColumns = `id, name, code, description, head_user_id, is_active, created_at, updated_at`

// Create inserts a department. Duplicate codes return ErrDuplicateCode.
func (s *Store) Create(ctx context.Context, d *Department) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO departments (name, code, description, head_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, is_active, created_at, updated_at
	`, d.Name, d.Code, nullIfEmpty(d.Description), d.HeadUserID,
	).Scan(&d.ID, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to create department: %w", err)
	}
	return nil
}

// Get loads a department by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Department, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id)
	return scanDepartment(row)
}

// List returns departments ordered by name. Inactive departments are
// excluded unless includeInactive is set.
func (s *Store) List(ctx context.Context, includeInactive bool, limit, offset int) ([]*Department, int64, error) {
	where := " WHERE is_active = true"
	if includeInactive {
		where = ""
	}

	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM departments`+where).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count departments: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+departmentColumns+` FROM departments`+where+` ORDER BY name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	departments := []*Department{}
	for rows.Next() {
		d, err := scanDepartmentRows(rows)
		if err != nil {
			return nil, 0, err
		}
		departments = append(departments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read departments: %w", err)
	}
	return departments, total, nil
}

// Update rewrites a department's mutable fields.
func (s *Store) Update(ctx context.Context, d *Department) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE departments
		SET name = $1, code = $2, description = $3, head_user_id = $4, is_active = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at
	`, d.Name, d.Code, nullIfEmpty(d.Description), d.HeadUserID, d.IsActive, d.ID,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDepartmentNotFound
		}
		if postgres.IsUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to update department: %w", err)
	}
	return nil
}

// Deactivate retires a department. Existing role assignments keep their
// department scope; new work should not reference it.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE departments SET is_active = false, updated_at = NOW() WHERE id = $1 AND is_active = true`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate department: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate department: %w", err)
	}
	if n == 0 {
		return ErrDepartmentNotFound
	}
	return nil
}

func scanDepartment(row *sql.Row) (*Department, error) {
	var d Department
	var description sql.NullString
	var head sql.NullInt64
	err := row.Scan(&d.ID, &d.Name, &d.Code, &description, &head, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDepartmentNotFound
		}
		return nil, fmt.Errorf("failed to scan department: %w", err)
	}
	applyNullables(&d, description, head)
	return &d, nil
}

func scanDepartmentRows(rows *sql.Rows) (*Department, error) {
	var d Department
	var description sql.NullString
	var head sql.NullInt64
	err := rows.Scan(&d.ID, &d.Name, &d.Code, &description, &head, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan department: %w", err)
	}
	applyNullables(&d, description, head)
	return &d, nil
}

func applyNullables(d *Department, description sql.NullString, head sql.NullInt64) {
	if description.Valid {
		d.Description = description.String
	}
	if head.Valid {
		d.HeadUserID = &head.Int64
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
