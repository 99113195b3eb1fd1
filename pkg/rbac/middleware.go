package rbac

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rosterd/rosterd/pkg/httputil"
)

// RequireRoles gates a route on holding at least one of the given roles.
// Super-role holders pass regardless of the list.
func RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if IsSuperRole(actor.Roles) || actor.HasAnyRole(roles...) {
				next.ServeHTTP(w, r)
				return
			}

			httputil.WriteForbidden(w, fmt.Sprintf("requires one of roles: %s", joinRoles(roles)))
		})
	}
}

// RequireManagement gates a route on the management role set.
func RequireManagement() func(http.Handler) http.Handler {
	return RequireRoles(ManagementRoles...)
}

// RequirePermission gates a route on a capability check against the catalog.
func RequirePermission(checker *Checker, category Category, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			allowed, err := checker.Allowed(r.Context(), actor.Roles, category, action, nil)
			if err != nil {
				httputil.GetLogger(r).WithError(err).Error("permission check failed")
				httputil.WriteInternalError(w, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, fmt.Sprintf("requires permission %s:%s", category, action))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func joinRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
