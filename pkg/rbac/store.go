package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rosterd/rosterd/pkg/storage/postgres"
)

// Sentinel errors translated by handlers into status codes.
var (
	ErrAssignmentNotFound  = errors.New("role assignment not found")
	ErrDuplicateAssignment = errors.New("user already has this active role")
	ErrPermissionNotFound  = errors.New("permission not found")
	ErrDuplicatePermission = errors.New("permission already exists")
)

// Querier is satisfied by *sql.DB and *sql.Tx so writes can participate in
// the service's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store handles role assignment and permission catalog persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transaction management.
func (s *Store) DB() *sql.DB {
	return s.db
}

const assignmentColumns = `id, user_id, role, department_id, assigned_by, assigned_at, expires_at, is_active, reason, metadata`

// CreateAssignment inserts a new assignment row. The partial unique index on
// active (user, role, department) triples turns concurrent duplicates into
// ErrDuplicateAssignment.
func (s *Store) CreateAssignment(ctx context.Context, q Querier, a *Assignment) error {
	metadataJSON, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_roles (user_id, role, department_id, assigned_by, assigned_at, expires_at, is_active, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now()
	err = q.QueryRowContext(ctx, query,
		a.UserID,
		a.Role,
		a.DepartmentID,
		a.AssignedBy,
		now,
		a.ExpiresAt,
		true,
		a.Reason,
		metadataJSON,
	).Scan(&a.ID)

	if postgres.IsUniqueViolation(err) {
		return ErrDuplicateAssignment
	}
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	a.AssignedAt = now
	a.IsActive = true
	return nil
}

// GetAssignment retrieves an assignment by ID
func (s *Store) GetAssignment(ctx context.Context, id int64) (*Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM user_roles WHERE id = $1`
	return s.scanAssignment(s.db.QueryRowContext(ctx, query, id))
}

// GetActiveAssignment finds the active row for a (user, role, department)
// triple. departmentID nil matches the department-less assignment.
func (s *Store) GetActiveAssignment(ctx context.Context, userID int64, role Role, departmentID *int64) (*Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM user_roles
		WHERE user_id = $1 AND role = $2 AND is_active = true
		  AND COALESCE(department_id, 0) = COALESCE($3, 0)
	`
	return s.scanAssignment(s.db.QueryRowContext(ctx, query, userID, role, departmentID))
}

// ListUserAssignments returns a user's assignments sorted newest first. With
// effectiveOnly set, revoked and expired rows are filtered out.
func (s *Store) ListUserAssignments(ctx context.Context, userID int64, effectiveOnly bool) ([]*Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM user_roles WHERE user_id = $1`
	if effectiveOnly {
		query += ` AND is_active = true AND (expires_at IS NULL OR expires_at > NOW())`
	}
	query += ` ORDER BY assigned_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// EffectiveRoles computes the user's current roles: active rows whose expiry
// has not passed. This is the lazy-expiry read path every gate depends on.
func (s *Store) EffectiveRoles(ctx context.Context, userID int64) ([]Role, error) {
	query := `
		SELECT DISTINCT role
		FROM user_roles
		WHERE user_id = $1 AND is_active = true
		  AND (expires_at IS NULL OR expires_at > NOW())
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load effective roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ListUsersByRole returns the effective holders of a role, paginated.
func (s *Store) ListUsersByRole(ctx context.Context, role Role, limit, offset int) ([]*Assignment, int64, error) {
	countQuery := `
		SELECT COUNT(*)
		FROM user_roles
		WHERE role = $1 AND is_active = true
		  AND (expires_at IS NULL OR expires_at > NOW())
	`
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, role).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count role holders: %w", err)
	}

	query := `
		SELECT ` + assignmentColumns + `
		FROM user_roles
		WHERE role = $1 AND is_active = true
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY assigned_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, role, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list role holders: %w", err)
	}
	defer rows.Close()

	assignments, err := collectAssignments(rows)
	if err != nil {
		return nil, 0, err
	}
	return assignments, total, nil
}

// UpdateAssignment applies the given department, expiry, and active-flag
// changes to an assignment row.
func (s *Store) UpdateAssignment(ctx context.Context, q Querier, a *Assignment) error {
	metadataJSON, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE user_roles
		SET department_id = $1, expires_at = $2, is_active = $3, reason = $4, metadata = $5
		WHERE id = $6
	`
	result, err := q.ExecContext(ctx, query,
		a.DepartmentID, a.ExpiresAt, a.IsActive, a.Reason, metadataJSON, a.ID)
	if postgres.IsUniqueViolation(err) {
		return ErrDuplicateAssignment
	}
	if err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// DeactivateAssignment flips an assignment inactive, preserving the row as
// history.
func (s *Store) DeactivateAssignment(ctx context.Context, q Querier, id int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE user_roles SET is_active = false WHERE id = $1 AND is_active = true`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deactivate result: %w", err)
	}
	if affected == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// ExpiredAssignments lists active rows whose expiry has passed, for the
// reconciliation sweeper.
func (s *Store) ExpiredAssignments(ctx context.Context, q Querier, limit int) ([]*Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM user_roles
		WHERE is_active = true AND expires_at IS NOT NULL AND expires_at <= NOW()
		ORDER BY expires_at
		LIMIT $1
	`
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired assignments: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

func (s *Store) scanAssignment(row *sql.Row) (*Assignment, error) {
	var a Assignment
	var departmentID sql.NullInt64
	var expiresAt sql.NullTime
	var reason sql.NullString
	var metadataJSON []byte

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Role,
		&departmentID,
		&a.AssignedBy,
		&a.AssignedAt,
		&expiresAt,
		&a.IsActive,
		&reason,
		&metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	applyAssignmentNullables(&a, departmentID, expiresAt, reason)
	if err := unmarshalMetadata(metadataJSON, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAssignments(rows *sql.Rows) ([]*Assignment, error) {
	var assignments []*Assignment
	for rows.Next() {
		var a Assignment
		var departmentID sql.NullInt64
		var expiresAt sql.NullTime
		var reason sql.NullString
		var metadataJSON []byte

		err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Role,
			&departmentID,
			&a.AssignedBy,
			&a.AssignedAt,
			&expiresAt,
			&a.IsActive,
			&reason,
			&metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}

		applyAssignmentNullables(&a, departmentID, expiresAt, reason)
		if err := unmarshalMetadata(metadataJSON, &a); err != nil {
			return nil, err
		}
		assignments = append(assignments, &a)
	}
	return assignments, rows.Err()
}

func applyAssignmentNullables(a *Assignment, departmentID sql.NullInt64, expiresAt sql.NullTime, reason sql.NullString) {
	if departmentID.Valid {
		id := departmentID.Int64
		a.DepartmentID = &id
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	if reason.Valid {
		a.Reason = reason.String
	}
}

func marshalMetadata(m *AssignmentMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assignment metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte, a *Assignment) error {
	if len(data) == 0 {
		return nil
	}
	var m AssignmentMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to unmarshal assignment metadata: %w", err)
	}
	a.Metadata = &m
	return nil
}
