package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
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

func assignmentRow(a *Assignment) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "role", "department_id", "assigned_by",
		"assigned_at", "expires_at", "is_active", "reason", "metadata",
	})
	var metadata []byte
	if a.Metadata != nil {
		metadata, _ = json.Marshal(a.Metadata)
	}
	rows.AddRow(a.ID, a.UserID, a.Role, a.DepartmentID, a.AssignedBy,
		a.AssignedAt, a.ExpiresAt, a.IsActive, a.Reason, metadata)
	return rows
}

func TestStoreCreateAssignment(t *testing.T) {
	t.Run("inserts and backfills row state", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("INSERT INTO user_roles").
			WithArgs(int64(10), RoleEmployee, nil, int64(1),
				sqlmock.AnyArg(), nil, true, "onboarding", []byte(nil)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(55)))

		a := &Assignment{UserID: 10, Role: RoleEmployee, AssignedBy: 1, Reason: "onboarding"}
		err := store.CreateAssignment(context.Background(), store.DB(), a)

		require.NoError(t, err)
		assert.Equal(t, int64(55), a.ID)
		assert.True(t, a.IsActive)
		assert.False(t, a.AssignedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to duplicate sentinel", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("INSERT INTO user_roles").
			WillReturnError(&pq.Error{Code: "23505"})

		a := &Assignment{UserID: 10, Role: RoleEmployee, AssignedBy: 1}
		err := store.CreateAssignment(context.Background(), store.DB(), a)

		assert.ErrorIs(t, err, ErrDuplicateAssignment)
	})
}

func TestStoreGetAssignment(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		deptID := int64(3)
		want := &Assignment{
			ID: 7, UserID: 10, Role: RoleIntern, DepartmentID: &deptID,
			AssignedBy: 1, AssignedAt: time.Now(), IsActive: true, Reason: "summer term",
			Metadata: &AssignmentMetadata{IPAddress: "10.0.0.1"},
		}

		mock.ExpectQuery("SELECT (.+) FROM user_roles WHERE id").
			WithArgs(int64(7)).
			WillReturnRows(assignmentRow(want))

		got, err := store.GetAssignment(context.Background(), 7)

		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, RoleIntern, got.Role)
		require.NotNil(t, got.DepartmentID)
		assert.Equal(t, deptID, *got.DepartmentID)
		require.NotNil(t, got.Metadata)
		assert.Equal(t, "10.0.0.1", got.Metadata.IPAddress)
	})

	t.Run("missing maps to not found sentinel", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT (.+) FROM user_roles WHERE id").
			WithArgs(int64(404)).
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetAssignment(context.Background(), 404)

		assert.ErrorIs(t, err, ErrAssignmentNotFound)
	})
}

func TestStoreEffectiveRoles(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT DISTINCT role").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).
			AddRow("employee").
			AddRow("project_manager"))

	roles, err := store.EffectiveRoles(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, []Role{RoleEmployee, RoleProjectManager}, roles)
}

func TestStoreListUserAssignments(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "role", "department_id", "assigned_by",
		"assigned_at", "expires_at", "is_active", "reason", "metadata",
	}).
		AddRow(int64(2), int64(10), "employee", nil, int64(1), time.Now(), nil, true, "", nil).
		AddRow(int64(1), int64(10), "intern", nil, int64(1), time.Now().Add(-time.Hour), nil, false, "", nil)

	mock.ExpectQuery("SELECT (.+) FROM user_roles WHERE user_id").
		WithArgs(int64(10)).
		WillReturnRows(rows)

	assignments, err := store.ListUserAssignments(context.Background(), 10, false)

	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, RoleEmployee, assignments[0].Role)
	assert.False(t, assignments[1].IsActive)
}

func TestStoreListUsersByRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(RoleEmployee).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))
	mock.ExpectQuery("SELECT (.+) FROM user_roles WHERE role").
		WithArgs(RoleEmployee, 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "role", "department_id", "assigned_by",
			"assigned_at", "expires_at", "is_active", "reason", "metadata",
		}).AddRow(int64(1), int64(10), "employee", nil, int64(1), time.Now(), nil, true, "", nil))

	assignments, total, err := store.ListUsersByRole(context.Background(), RoleEmployee, 20, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(42), total)
	assert.Len(t, assignments, 1)
}

func TestStoreDeactivateAssignment(t *testing.T) {
	t.Run("flips active row", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec("UPDATE user_roles SET is_active = false").
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.DeactivateAssignment(context.Background(), store.DB(), 7))
	})

	t.Run("already inactive maps to not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec("UPDATE user_roles SET is_active = false").
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.DeactivateAssignment(context.Background(), store.DB(), 7)
		assert.ErrorIs(t, err, ErrAssignmentNotFound)
	})
}

func TestStoreUpdateAssignment(t *testing.T) {
	t.Run("missing row maps to not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec("UPDATE user_roles").
			WillReturnResult(sqlmock.NewResult(0, 0))

		a := &Assignment{ID: 404, IsActive: true}
		err := store.UpdateAssignment(context.Background(), store.DB(), a)
		assert.ErrorIs(t, err, ErrAssignmentNotFound)
	})

	t.Run("unique violation maps to duplicate", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec("UPDATE user_roles").
			WillReturnError(&pq.Error{Code: "23505"})

		a := &Assignment{ID: 7, IsActive: true}
		err := store.UpdateAssignment(context.Background(), store.DB(), a)
		assert.ErrorIs(t, err, ErrDuplicateAssignment)
	})
}

func TestStoreExpiredAssignments(t *testing.T) {
	store, mock := newMockStore(t)
	expiry := time.Now().Add(-time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM user_roles").
		WithArgs(500).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "role", "department_id", "assigned_by",
			"assigned_at", "expires_at", "is_active", "reason", "metadata",
		}).AddRow(int64(9), int64(10), "intern", nil, int64(1), time.Now().Add(-48*time.Hour), expiry, true, "", nil))

	expired, err := store.ExpiredAssignments(context.Background(), store.DB(), 500)

	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.True(t, expired[0].Expired(time.Now()))
}

func TestStoreQueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT DISTINCT role").
		WillReturnError(errors.New("connection reset"))

	_, err := store.EffectiveRoles(context.Background(), 10)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load effective roles")
}
