// Package middleware carries the cross-cutting HTTP middleware: bearer token
// authentication and the rate limiters.
package middleware

import (
	"net/http"
	"strings"

	"github.com/rosterd/rosterd/pkg/contextkeys"
	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/identity"
	"github.com/rosterd/rosterd/pkg/rbac"
)

// AuthMiddleware authenticates bearer tokens and attaches the resolved actor
// to the request context. The actor's roles are read once here; gates further
// down never re-resolve them, so authorization within one request is
// consistent even if assignments change mid-flight.
type AuthMiddleware struct {
	tokens *identity.TokenIssuer
	users  *identity.Store
	roles  *rbac.Store
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(tokens *identity.TokenIssuer, users *identity.Store, roles *rbac.Store) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users, roles: roles}
}

// Handler rejects requests without a valid bearer token.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		userID, err := m.tokens.Verify(parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		user, err := m.users.GetByID(r.Context(), userID)
		if err != nil {
			// A valid token for a deleted account is still unauthorized.
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		roles, err := m.roles.EffectiveRoles(r.Context(), user.ID)
		if err != nil {
			httputil.GetLogger(r).WithError(err).Error("failed to resolve roles")
			httputil.WriteInternalError(w, err)
			return
		}

		actor := &rbac.Actor{
			UserID: user.ID,
			Email:  user.Email,
			Name:   user.Name,
			Roles:  roles,
		}

		ctx := contextkeys.WithActor(r.Context(), actor)
		ctx = contextkeys.WithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
