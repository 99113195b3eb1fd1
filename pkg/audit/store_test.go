package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func entryRows(entries ...*Entry) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "role", "action", "performed_by",
		"performed_at", "department_id", "reason", "metadata",
	})
	for _, e := range entries {
		var metadata []byte
		if e.Metadata != nil {
			metadata = []byte(`{"ip_address":"` + e.Metadata.IPAddress + `"}`)
		}
		rows.AddRow(e.ID, e.UserID, e.Role, e.Action, e.PerformedBy,
			e.PerformedAt, e.DepartmentID, e.Reason, metadata)
	}
	return rows
}

func TestStoreRecord(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("assigns id and timestamp", func(t *testing.T) {
		entry := &Entry{
			UserID:      10,
			Role:        "employee",
			Action:      "assign",
			PerformedBy: 2,
			Reason:      "onboarding",
		}
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO role_audit")).
			WithArgs(int64(10), "employee", "assign", int64(2), sqlmock.AnyArg(), nil, "onboarding", []byte(nil)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		require.NoError(t, store.Record(context.Background(), store.db, entry))
		assert.Equal(t, int64(7), entry.ID)
		assert.False(t, entry.PerformedAt.IsZero())
	})

	t.Run("marshals metadata", func(t *testing.T) {
		entry := &Entry{
			UserID:      11,
			Role:        "hr",
			Action:      "revoke",
			PerformedBy: 2,
			PerformedAt: time.Now(),
			Metadata:    &Metadata{IPAddress: "10.0.0.1"},
		}
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO role_audit")).
			WithArgs(int64(11), "hr", "revoke", int64(2), sqlmock.AnyArg(), nil, "", []byte(`{"ip_address":"10.0.0.1"}`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

		require.NoError(t, store.Record(context.Background(), store.db, entry))
		assert.Equal(t, int64(8), entry.ID)
	})

	t.Run("insert failure", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO role_audit")).
			WillReturnError(errors.New("connection reset"))

		err := store.Record(context.Background(), store.db, &Entry{UserID: 12, Role: "hr", Action: "assign"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit entry")
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSearch(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("no filters", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM role_audit WHERE 1=1")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery(regexp.QuoteMeta("FROM role_audit WHERE 1=1 ORDER BY performed_at DESC LIMIT $1")).
			WithArgs(50).
			WillReturnRows(entryRows(
				&Entry{ID: 2, UserID: 10, Role: "employee", Action: "revoke", PerformedBy: 2, PerformedAt: time.Now()},
				&Entry{ID: 1, UserID: 10, Role: "employee", Action: "assign", PerformedBy: 2, PerformedAt: time.Now()},
			))

		entries, total, err := store.Search(context.Background(), Filter{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, entries, 2)
		assert.Equal(t, "revoke", entries[0].Action)
	})

	t.Run("all filters numbered in order", func(t *testing.T) {
		userID := int64(10)
		role := "employee"
		action := "assign"
		performedBy := int64(2)
		start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
		filter := Filter{
			UserID: &userID, Role: &role, Action: &action, PerformedBy: &performedBy,
			StartDate: &start, EndDate: &end,
			Limit: 20, Offset: 40,
		}

		where := "WHERE 1=1 AND user_id = $1 AND role = $2 AND action = $3" +
			" AND performed_by = $4 AND performed_at >= $5 AND performed_at <= $6"
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM role_audit "+where)).
			WithArgs(userID, role, action, performedBy, start, end).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))
		mock.ExpectQuery(regexp.QuoteMeta(where+" ORDER BY performed_at DESC LIMIT $7 OFFSET $8")).
			WithArgs(userID, role, action, performedBy, start, end, 20, 40).
			WillReturnRows(entryRows(&Entry{ID: 41, UserID: 10, Role: "employee", Action: "assign", PerformedBy: 2, PerformedAt: time.Now()}))

		entries, total, err := store.Search(context.Background(), filter)
		require.NoError(t, err)
		assert.Equal(t, int64(41), total)
		require.Len(t, entries, 1)
	})

	t.Run("decodes nullable columns", func(t *testing.T) {
		dept := int64(3)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery("FROM role_audit").
			WillReturnRows(entryRows(&Entry{
				ID: 5, UserID: 10, Role: "hod", Action: "update", PerformedBy: 2,
				PerformedAt:  time.Now(),
				DepartmentID: &dept,
				Reason:       "transfer",
				Metadata:     &Metadata{IPAddress: "192.168.1.9"},
			}))

		entries, _, err := store.Search(context.Background(), Filter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NotNil(t, entries[0].DepartmentID)
		assert.Equal(t, int64(3), *entries[0].DepartmentID)
		assert.Equal(t, "transfer", entries[0].Reason)
		require.NotNil(t, entries[0].Metadata)
		assert.Equal(t, "192.168.1.9", entries[0].Metadata.IPAddress)
	})

	t.Run("count failure", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
			WillReturnError(errors.New("timeout"))

		_, _, err := store.Search(context.Background(), Filter{Limit: 10})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to count audit entries")
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUserHistory(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM role_audit WHERE 1=1 AND user_id = $1")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("AND user_id = $1 ORDER BY performed_at DESC LIMIT $2")).
		WithArgs(int64(10), 25).
		WillReturnRows(entryRows(&Entry{ID: 1, UserID: 10, Role: "employee", Action: "assign", PerformedBy: 2, PerformedAt: time.Now()}))

	entries, total, err := store.UserHistory(context.Background(), 10, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(10), entries[0].UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(100))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY performed_at DESC LIMIT $1")).
		WithArgs(5).
		WillReturnRows(entryRows(
			&Entry{ID: 100, UserID: 10, Role: "employee", Action: "expire", PerformedBy: 0, PerformedAt: time.Now()},
		))

	entries, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "expire", entries[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreStats(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Now().AddDate(0, 0, -30)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM role_audit")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT action, COUNT(*) FROM role_audit GROUP BY action")).
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).
			AddRow("assign", 80).
			AddRow("revoke", 30).
			AddRow("expire", 10))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role, COUNT(*) FROM role_audit GROUP BY role")).
		WillReturnRows(sqlmock.NewRows([]string{"role", "count"}).
			AddRow("employee", 90).
			AddRow("hr", 30))
	mock.ExpectQuery("LEFT JOIN users").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"performed_by", "name", "email", "c"}).
			AddRow(2, "Dana Reyes", "dana@example.com", 75).
			AddRow(0, "", "", 10))
	mock.ExpectQuery(regexp.QuoteMeta("date_trunc('day', performed_at)")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}).
			AddRow("2025-08-01", 4).
			AddRow("2025-08-02", 9))

	stats, err := store.Stats(context.Background(), since, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(120), stats.TotalEntries)
	assert.Equal(t, int64(80), stats.ActionCounts["assign"])
	assert.Equal(t, int64(30), stats.RoleCounts["hr"])
	require.Len(t, stats.TopPerformers, 2)
	assert.Equal(t, "Dana Reyes", stats.TopPerformers[0].Name)
	assert.Equal(t, int64(75), stats.TopPerformers[0].Count)
	assert.Empty(t, stats.TopPerformers[1].Name)
	require.Len(t, stats.Timeline, 2)
	assert.Equal(t, "2025-08-01", stats.Timeline[0].Date)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreStatsCountFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM role_audit")).
		WillReturnError(errors.New("down"))

	_, err := store.Stats(context.Background(), time.Now(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to count audit entries")
}
