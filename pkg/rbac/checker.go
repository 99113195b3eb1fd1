package rbac

import (
	"context"

	"github.com/rosterd/rosterd/pkg/contextkeys"
	"github.com/rosterd/rosterd/pkg/observability"
)

// ActorFromContext returns the request's authenticated actor, if any.
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	actor, ok := ctx.Value(contextkeys.ActorKey).(*Actor)
	return actor, ok
}

// Checker evaluates capability checks against the permission catalog. Checks
// always hit the catalog; results are never cached, so a catalog edit takes
// effect on the next request.
type Checker struct {
	store   *Store
	metrics *observability.Metrics
}

// NewChecker creates a checker. metrics may be nil.
func NewChecker(store *Store, metrics *observability.Metrics) *Checker {
	return &Checker{store: store, metrics: metrics}
}

// Allowed decides whether the given role set may perform action in category,
// optionally narrowed to a named resource. The super role passes
// unconditionally; otherwise a grant for the action or for manage in the
// same category must exist.
func (c *Checker) Allowed(ctx context.Context, roles []Role, category Category, action Action, resource *string) (bool, error) {
	if IsSuperRole(roles) {
		c.count(category, action, "super")
		return true, nil
	}

	allowed, err := c.store.AnyRoleHasPermission(ctx, roles, category, action, resource)
	if err != nil {
		c.count(category, action, "error")
		return false, err
	}

	if allowed {
		c.count(category, action, "allow")
	} else {
		c.count(category, action, "deny")
	}
	return allowed, nil
}

func (c *Checker) count(category Category, action Action, result string) {
	if c.metrics != nil {
		c.metrics.PermissionChecksTotal.WithLabelValues(string(category), string(action), result).Inc()
	}
}
