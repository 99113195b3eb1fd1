package invites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInvitationNotFound is returned when no invitation matches.
var ErrInvitationNotFound = errors.New("invitation not found")

// Querier is the common surface of *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists invitations.
type Store struct {
	db *sql.DB
}

// NewStore creates an invitation store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for callers that span a transaction across stores.
func (s *Store) DB() *sql.DB {
	return s.db
}

const invitationColumns = `id, email, role, department_id, invited_by, invited_at, token, expires_at, status, accepted_at, accepted_user_id, message`

// Create inserts a pending invitation.
func (s *Store) Create(ctx context.Context, inv *Invitation) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (email, role, department_id, invited_by, token, expires_at, status, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, invited_at
	`, inv.Email, string(inv.Role), inv.DepartmentID, inv.InvitedBy, inv.Token,
		inv.ExpiresAt, string(StatusPending), nullIfEmpty(inv.Message),
	).Scan(&inv.ID, &inv.InvitedAt)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	inv.Status = StatusPending
	return nil
}

// Get loads an invitation by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)
	return scanInvitation(row)
}

// GetByToken loads an invitation by its secret token.
func (s *Store) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token = $1`, token)
	return scanInvitation(row)
}

// HasPending reports whether a live pending invitation exists for the email.
func (s *Store) HasPending(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invitations
			WHERE email = $1 AND status = $2 AND expires_at > NOW()
		)
	`, email, string(StatusPending)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending invitations: %w", err)
	}
	return exists, nil
}

// List returns invitations newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status *Status, limit, offset int) ([]*Invitation, int64, error) {
	where := ""
	args := []interface{}{}
	if status != nil {
		where = " WHERE status = $1"
		args = append(args, string(*status))
	}

	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invitations`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count invitations: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM invitations%s ORDER BY invited_at DESC LIMIT $%d OFFSET $%d`,
		invitationColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []*Invitation{}
	for rows.Next() {
		inv, err := scanInvitationRows(rows)
		if err != nil {
			return nil, 0, err
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read invitations: %w", err)
	}
	return invitations, total, nil
}

// SetStatus transitions an invitation from one status to another. The
// transition fails with ErrInvitationNotFound when the row is no longer in
// the expected state.
func (s *Store) SetStatus(ctx context.Context, q Querier, id int64, from, to Status) error {
	if q == nil {
		q = s.db
	}
	res, err := q.ExecContext(ctx,
		`UPDATE invitations SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
	}
	if n == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

// MarkAccepted settles a pending invitation with the account it created.
func (s *Store) MarkAccepted(ctx context.Context, q Querier, id, userID int64, at time.Time) error {
	if q == nil {
		q = s.db
	}
	res, err := q.ExecContext(ctx, `
		UPDATE invitations
		SET status = $1, accepted_at = $2, accepted_user_id = $3
		WHERE id = $4 AND status = $5
	`, string(StatusAccepted), at, userID, id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("failed to accept invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to accept invitation: %w", err)
	}
	if n == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

func scanInvitation(row *sql.Row) (*Invitation, error) {
	var inv Invitation
	var departmentID, acceptedUserID sql.NullInt64
	var acceptedAt sql.NullTime
	var message sql.NullString
	err := row.Scan(&inv.ID, &inv.Email, &inv.Role, &departmentID, &inv.InvitedBy,
		&inv.InvitedAt, &inv.Token, &inv.ExpiresAt, &inv.Status,
		&acceptedAt, &acceptedUserID, &message)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}
	applyInvitationNullables(&inv, departmentID, acceptedAt, acceptedUserID, message)
	return &inv, nil
}

func scanInvitationRows(rows *sql.Rows) (*Invitation, error) {
	var inv Invitation
	var departmentID, acceptedUserID sql.NullInt64
	var acceptedAt sql.NullTime
	var message sql.NullString
	err := rows.Scan(&inv.ID, &inv.Email, &inv.Role, &departmentID, &inv.InvitedBy,
		&inv.InvitedAt, &inv.Token, &inv.ExpiresAt, &inv.Status,
		&acceptedAt, &acceptedUserID, &message)
	if err != nil {
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}
	applyInvitationNullables(&inv, departmentID, acceptedAt, acceptedUserID, message)
	return &inv, nil
}

func applyInvitationNullables(inv *Invitation, departmentID sql.NullInt64, acceptedAt sql.NullTime, acceptedUserID sql.NullInt64, message sql.NullString) {
	if departmentID.Valid {
		inv.DepartmentID = &departmentID.Int64
	}
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	if acceptedUserID.Valid {
		inv.AcceptedUserID = &acceptedUserID.Int64
	}
	if message.Valid {
		inv.Message = message.String
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
