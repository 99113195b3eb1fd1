package middleware

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterd/rosterd/pkg/contextkeys"
	"github.com/rosterd/rosterd/pkg/identity"
	"github.com/rosterd/rosterd/pkg/rbac"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newAuthHandler(t *testing.T) (http.Handler, sqlmock.Sqlmock, *identity.TokenIssuer, *capturedActor) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens := identity.NewTokenIssuer(testSecret, time.Hour)
	auth := NewAuthMiddleware(tokens, identity.NewStore(db), rbac.NewStore(db))

	captured := &capturedActor{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.actor, _ = rbac.ActorFromContext(r.Context())
		captured.userID = contextkeys.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return auth.Handler(next), mock, tokens, captured
}

type capturedActor struct {
	actor  *rbac.Actor
	userID int64
}

func doAuthed(handler http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/anything", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func expectUserLookup(mock sqlmock.Sqlmock, id int64) {
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "created_at", "updated_at"}).
			AddRow(id, "Dana Reyes", "dana@example.com", "$2a$04$hash", now, now))
}

func TestAuthMiddleware(t *testing.T) {
	handler, mock, tokens, captured := newAuthHandler(t)

	t.Run("valid token attaches actor", func(t *testing.T) {
		token, err := tokens.Issue(9)
		require.NoError(t, err)

		expectUserLookup(mock, 9)
		mock.ExpectQuery("FROM user_roles").
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("employee").AddRow("project_manager"))

		rec := doAuthed(handler, "Bearer "+token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.NotNil(t, captured.actor)
		assert.Equal(t, int64(9), captured.actor.UserID)
		assert.Equal(t, "dana@example.com", captured.actor.Email)
		assert.ElementsMatch(t, []rbac.Role{rbac.RoleEmployee, rbac.RoleProjectManager}, captured.actor.Roles)
		assert.Equal(t, int64(9), captured.userID)
	})

	t.Run("lowercase bearer scheme accepted", func(t *testing.T) {
		token, err := tokens.Issue(9)
		require.NoError(t, err)

		expectUserLookup(mock, 9)
		mock.ExpectQuery("FROM user_roles").
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("employee"))

		rec := doAuthed(handler, "bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := doAuthed(handler, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing authorization header")
	})

	t.Run("wrong scheme", func(t *testing.T) {
		rec := doAuthed(handler, "Basic dXNlcjpwYXNz")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid authorization header format")
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := doAuthed(handler, "Bearer not-a-token")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid or expired token")
	})

	t.Run("expired token", func(t *testing.T) {
		stale, err := identity.NewTokenIssuer(testSecret, -time.Minute).Issue(9)
		require.NoError(t, err)

		rec := doAuthed(handler, "Bearer "+stale)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("deleted account", func(t *testing.T) {
		token, err := tokens.Issue(77)
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WithArgs(int64(77)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "created_at", "updated_at"}))

		rec := doAuthed(handler, "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid or expired token")
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
