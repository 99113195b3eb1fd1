package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rosterd/rosterd/pkg/observability"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations holds the schema in order. Versions are append-only.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "create users table",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		Version:     2,
		Description: "create departments table",
		SQL: `
			CREATE TABLE IF NOT EXISTS departments (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				code VARCHAR(32) NOT NULL UNIQUE,
				description TEXT,
				head_user_id BIGINT REFERENCES users(id),
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		Version:     3,
		Description: "create user_roles table with active-triple uniqueness",
		SQL: `
			CREATE TABLE IF NOT EXISTS user_roles (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id),
				role VARCHAR(64) NOT NULL,
				department_id BIGINT REFERENCES departments(id),
				assigned_by BIGINT NOT NULL,
				assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				expires_at TIMESTAMPTZ,
				is_active BOOLEAN NOT NULL DEFAULT true,
				reason TEXT,
				metadata JSONB
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_user_roles_active_triple
				ON user_roles (user_id, role, COALESCE(department_id, 0))
				WHERE is_active;
			CREATE INDEX IF NOT EXISTS idx_user_roles_user_active
				ON user_roles (user_id) WHERE is_active;
			CREATE INDEX IF NOT EXISTS idx_user_roles_role_active
				ON user_roles (role) WHERE is_active;
			CREATE INDEX IF NOT EXISTS idx_user_roles_expiry
				ON user_roles (expires_at) WHERE is_active AND expires_at IS NOT NULL;
		`,
	},
	{
		Version:     4,
		Description: "create permissions catalog",
		SQL: `
			CREATE TABLE IF NOT EXISTS permissions (
				id BIGSERIAL PRIMARY KEY,
				role VARCHAR(64) NOT NULL,
				category VARCHAR(64) NOT NULL,
				action VARCHAR(32) NOT NULL,
				resource VARCHAR(255),
				description TEXT,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_permissions_grant
				ON permissions (role, category, action, COALESCE(resource, ''));
			CREATE INDEX IF NOT EXISTS idx_permissions_lookup
				ON permissions (category, action) WHERE is_active;
		`,
	},
	{
		Version:     5,
		Description: "create role_audit trail",
		SQL: `
			CREATE TABLE IF NOT EXISTS role_audit (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				role VARCHAR(64) NOT NULL,
				action VARCHAR(32) NOT NULL,
				performed_by BIGINT NOT NULL,
				performed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				department_id BIGINT,
				reason TEXT,
				metadata JSONB
			);
			CREATE INDEX IF NOT EXISTS idx_role_audit_user ON role_audit (user_id, performed_at DESC);
			CREATE INDEX IF NOT EXISTS idx_role_audit_performed_at ON role_audit (performed_at DESC);
			CREATE INDEX IF NOT EXISTS idx_role_audit_action ON role_audit (action);
		`,
	},
	{
		Version:     6,
		Description: "create invitations table",
		SQL: `
			CREATE TABLE IF NOT EXISTS invitations (
				id BIGSERIAL PRIMARY KEY,
				email VARCHAR(255) NOT NULL,
				role VARCHAR(64) NOT NULL,
				department_id BIGINT REFERENCES departments(id),
				invited_by BIGINT NOT NULL REFERENCES users(id),
				invited_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				token VARCHAR(128) NOT NULL UNIQUE,
				expires_at TIMESTAMPTZ NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'pending',
				accepted_at TIMESTAMPTZ,
				accepted_user_id BIGINT REFERENCES users(id),
				message TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_invitations_email ON invitations (email);
			CREATE INDEX IF NOT EXISTS idx_invitations_status ON invitations (status);
		`,
	},
	{
		Version:     7,
		Description: "create projects table",
		SQL: `
			CREATE TABLE IF NOT EXISTS projects (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				department_id BIGINT REFERENCES departments(id),
				owner_id BIGINT NOT NULL REFERENCES users(id),
				status VARCHAR(32) NOT NULL DEFAULT 'active',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_projects_department ON projects (department_id);
		`,
	},
	{
		Version:     8,
		Description: "create files metadata table",
		SQL: `
			CREATE TABLE IF NOT EXISTS files (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				content_type VARCHAR(255) NOT NULL,
				size_bytes BIGINT NOT NULL,
				storage_key VARCHAR(512) NOT NULL UNIQUE,
				department_id BIGINT REFERENCES departments(id),
				uploaded_by BIGINT NOT NULL REFERENCES users(id),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
}

// RunMigrations applies pending migrations, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rosterd_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range Migrations {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM rosterd_migrations WHERE version = $1)`, m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rosterd_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
		logger.Infof("applied migration %d: %s", m.Version, m.Description)
	}

	return nil
}
