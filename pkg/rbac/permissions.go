package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/rosterd/rosterd/pkg/storage/postgres"
)

const permissionColumns = `id, role, category, action, resource, description, is_active, created_at`

// PermissionFilter narrows catalog listings.
type PermissionFilter struct {
	Role     *Role
	Category *Category
	Action   *Action
	IsActive *bool
}

// CreatePermission inserts a catalog row.
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	query := `
		INSERT INTO permissions (role, category, action, resource, description, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		p.Role, p.Category, p.Action, p.Resource, p.Description, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt)

	if postgres.IsUniqueViolation(err) {
		return ErrDuplicatePermission
	}
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	return nil
}

// GetPermission retrieves a catalog row by ID.
func (s *Store) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1`
	return scanPermission(s.db.QueryRowContext(ctx, query, id))
}

// UpdatePermission changes the mutable fields of a catalog row: description
// and the active flag. The (role, category, action, resource) key is fixed.
func (s *Store) UpdatePermission(ctx context.Context, id int64, description *string, isActive *bool) (*Permission, error) {
	query := `
		UPDATE permissions
		SET description = COALESCE($1, description),
		    is_active = COALESCE($2, is_active)
		WHERE id = $3
		RETURNING ` + permissionColumns

	return scanPermission(s.db.QueryRowContext(ctx, query, description, isActive, id))
}

// DeletePermission removes a catalog row.
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

// ListPermissions lists catalog rows matching the filter.
func (s *Store) ListPermissions(ctx context.Context, filter PermissionFilter) ([]*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filter.Role != nil {
		argCount++
		query += fmt.Sprintf(" AND role = $%d", argCount)
		args = append(args, *filter.Role)
	}
	if filter.Category != nil {
		argCount++
		query += fmt.Sprintf(" AND category = $%d", argCount)
		args = append(args, *filter.Category)
	}
	if filter.Action != nil {
		argCount++
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, *filter.Action)
	}
	if filter.IsActive != nil {
		argCount++
		query += fmt.Sprintf(" AND is_active = $%d", argCount)
		args = append(args, *filter.IsActive)
	}

	query += " ORDER BY role, category, action"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	return collectPermissions(rows)
}

// RolePermissions returns the active catalog rows for one role.
func (s *Store) RolePermissions(ctx context.Context, role Role) ([]*Permission, error) {
	active := true
	return s.ListPermissions(ctx, PermissionFilter{Role: &role, IsActive: &active})
}

// PermissionsForRoles returns the active catalog rows granted to any of the
// given roles, for computing a user's effective permission set.
func (s *Store) PermissionsForRoles(ctx context.Context, roles []Role) ([]*Permission, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + permissionColumns + `
		FROM permissions
		WHERE role = ANY($1) AND is_active = true
		ORDER BY category, action
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(roleStrings(roles)))
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for roles: %w", err)
	}
	defer rows.Close()

	return collectPermissions(rows)
}

// AnyRoleHasPermission reports whether any of the roles holds an active grant
// for the requested category and action. A `manage` grant in the category
// satisfies every other action, so checks match the requested action or
// manage. Resource-scoped grants match only the named resource; unscoped
// grants match everything.
func (s *Store) AnyRoleHasPermission(ctx context.Context, roles []Role, category Category, action Action, resource *string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM permissions
			WHERE role = ANY($1)
			  AND category = $2
			  AND (action = $3 OR action = $4)
			  AND is_active = true
			  AND (resource IS NULL OR resource = $5)
		)
	`
	var allowed bool
	err := s.db.QueryRowContext(ctx, query,
		pq.Array(roleStrings(roles)), category, action, ActionManage, resource,
	).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return allowed, nil
}

func roleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func scanPermission(row *sql.Row) (*Permission, error) {
	var p Permission
	var resource sql.NullString
	var description sql.NullString

	err := row.Scan(
		&p.ID, &p.Role, &p.Category, &p.Action, &resource,
		&description, &p.IsActive, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	if resource.Valid {
		r := resource.String
		p.Resource = &r
	}
	if description.Valid {
		p.Description = description.String
	}
	return &p, nil
}

func collectPermissions(rows *sql.Rows) ([]*Permission, error) {
	var permissions []*Permission
	for rows.Next() {
		var p Permission
		var resource sql.NullString
		var description sql.NullString

		err := rows.Scan(
			&p.ID, &p.Role, &p.Category, &p.Action, &resource,
			&description, &p.IsActive, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}

		if resource.Valid {
			r := resource.String
			p.Resource = &r
		}
		if description.Valid {
			p.Description = description.String
		}
		permissions = append(permissions, &p)
	}
	return permissions, rows.Err()
}
