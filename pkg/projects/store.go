// Package projects implements the project registry gated by the projects
// permission category.
package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrProjectNotFound is returned when no project matches.
var ErrProjectNotFound = errors.New("project not found")

// Status is the closed set of project states.
type Status string

const (
	StatusActive    Status = "active"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Valid reports whether the status is a member of the closed set.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusOnHold, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// Project is one unit of work, optionally scoped to a department.
type Project struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	DepartmentID *int64    `json:"department_id,omitempty"`
	OwnerID      int64     `json:"owner_id"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists projects.
type Store struct {
	db *sql.DB
}

// NewStore creates a project store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const projectColumns = `id, name, description, department_id, owner_id, status, created_at, updated_at`

// Create inserts a project.
func (s *Store) Create(ctx context.Context, p *Project) error {
	if p.Status == "" {
		p.Status = StatusActive
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (name, description, department_id, owner_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, p.Name, nullIfEmpty(p.Description), p.DepartmentID, p.OwnerID, string(p.Status),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Get loads a project by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// Filter narrows project listings.
type Filter struct {
	DepartmentID *int64
	Status       *Status
}

// List returns projects newest first.
func (s *Store) List(ctx context.Context, filter Filter, limit, offset int) ([]*Project, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		where += fmt.Sprintf(" AND department_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count projects: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM projects%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		projectColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, 0, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read projects: %w", err)
	}
	return projects, total, nil
}

// Update rewrites a project's mutable fields.
func (s *Store) Update(ctx context.Context, p *Project) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET name = $1, description = $2, department_id = $3, status = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`, p.Name, nullIfEmpty(p.Description), p.DepartmentID, string(p.Status), p.ID,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

// Delete removes a project.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var description sql.NullString
	var departmentID sql.NullInt64
	err := row.Scan(&p.ID, &p.Name, &description, &departmentID, &p.OwnerID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	applyNullables(&p, description, departmentID)
	return &p, nil
}

func scanProjectRows(rows *sql.Rows) (*Project, error) {
	var p Project
	var description sql.NullString
	var departmentID sql.NullInt64
	err := rows.Scan(&p.ID, &p.Name, &description, &departmentID, &p.OwnerID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	applyNullables(&p, description, departmentID)
	return &p, nil
}

func applyNullables(p *Project, description sql.NullString, departmentID sql.NullInt64) {
	if description.Valid {
		p.Description = description.String
	}
	if departmentID.Valid {
		p.DepartmentID = &departmentID.Int64
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
