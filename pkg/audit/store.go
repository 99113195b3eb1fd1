package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Querier is satisfied by *sql.DB and *sql.Tx so Record can run inside the
// caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists and queries the audit trail.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, user_id, role, action, performed_by, performed_at, department_id, reason, metadata`

// Record appends an entry. Pass the mutation's transaction as q so the entry
// commits or rolls back with the assignment change it describes.
func (s *Store) Record(ctx context.Context, q Querier, e *Entry) error {
	var metadataJSON []byte
	if e.Metadata != nil {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadataJSON = data
	}

	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now()
	}

	query := `
		INSERT INTO role_audit (user_id, role, action, performed_by, performed_at, department_id, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		e.UserID, e.Role, e.Action, e.PerformedBy, e.PerformedAt,
		e.DepartmentID, e.Reason, metadataJSON,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Search returns entries matching the filter, newest first, with the total
// match count for pagination.
func (s *Store) Search(ctx context.Context, filter Filter) ([]*Entry, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filter.UserID != nil {
		argCount++
		where += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
	}
	if filter.Role != nil {
		argCount++
		where += fmt.Sprintf(" AND role = $%d", argCount)
		args = append(args, *filter.Role)
	}
	if filter.Action != nil {
		argCount++
		where += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, *filter.Action)
	}
	if filter.PerformedBy != nil {
		argCount++
		where += fmt.Sprintf(" AND performed_by = $%d", argCount)
		args = append(args, *filter.PerformedBy)
	}
	if filter.StartDate != nil {
		argCount++
		where += fmt.Sprintf(" AND performed_at >= $%d", argCount)
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		argCount++
		where += fmt.Sprintf(" AND performed_at <= $%d", argCount)
		args = append(args, *filter.EndDate)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM role_audit"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := "SELECT " + entryColumns + " FROM role_audit" + where + " ORDER BY performed_at DESC"
	if filter.Limit > 0 {
		argCount++
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		argCount++
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// UserHistory returns the full trail for one user, newest first.
func (s *Store) UserHistory(ctx context.Context, userID int64, limit, offset int) ([]*Entry, int64, error) {
	return s.Search(ctx, Filter{UserID: &userID, Limit: limit, Offset: offset})
}

// Recent returns the newest entries across all users.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	entries, _, err := s.Search(ctx, Filter{Limit: limit})
	return entries, err
}

// Stats aggregates the trail: counts by action and role, the top performers
// joined to user names, and a daily timeline covering the given window.
func (s *Store) Stats(ctx context.Context, since time.Time, topN int) (*Stats, error) {
	stats := &Stats{
		ActionCounts: make(map[string]int64),
		RoleCounts:   make(map[string]int64),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_audit`).Scan(&stats.TotalEntries); err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM role_audit GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate actions: %w", err)
	}
	if err := scanCounts(rows, stats.ActionCounts); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM role_audit GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate roles: %w", err)
	}
	if err := scanCounts(rows, stats.RoleCounts); err != nil {
		return nil, err
	}

	performerQuery := `
		SELECT a.performed_by, COALESCE(u.name, ''), COALESCE(u.email, ''), COUNT(*) AS c
		FROM role_audit a
		LEFT JOIN users u ON u.id = a.performed_by
		GROUP BY a.performed_by, u.name, u.email
		ORDER BY c DESC
		LIMIT $1
	`
	rows, err = s.db.QueryContext(ctx, performerQuery, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate performers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Performer
		if err := rows.Scan(&p.UserID, &p.Name, &p.Email, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan performer: %w", err)
		}
		stats.TopPerformers = append(stats.TopPerformers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	timelineQuery := `
		SELECT to_char(date_trunc('day', performed_at), 'YYYY-MM-DD') AS day, COUNT(*)
		FROM role_audit
		WHERE performed_at >= $1
		GROUP BY day
		ORDER BY day
	`
	rows, err = s.db.QueryContext(ctx, timelineQuery, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate timeline: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("failed to scan timeline bucket: %w", err)
		}
		stats.Timeline = append(stats.Timeline, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

func scanCounts(rows *sql.Rows, into map[string]int64) error {
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan count row: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

func collectEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var e Entry
		var departmentID sql.NullInt64
		var reason sql.NullString
		var metadataJSON []byte

		err := rows.Scan(
			&e.ID, &e.UserID, &e.Role, &e.Action, &e.PerformedBy,
			&e.PerformedAt, &departmentID, &reason, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if departmentID.Valid {
			id := departmentID.Int64
			e.DepartmentID = &id
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		if len(metadataJSON) > 0 {
			var m Metadata
			if err := json.Unmarshal(metadataJSON, &m); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
			e.Metadata = &m
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
