// Package rbac implements role assignments, the permission catalog, and the
// authorization gates built on both.
package rbac

import (
	"fmt"
	"time"
)

// Role is the closed set of roles a user can hold.
type Role string

const (
	RoleCEO                  Role = "ceo"
	RoleContentManager       Role = "content_manager"
	RoleFinanceManager       Role = "finance_manager"
	RoleHR                   Role = "hr"
	RoleHOD                  Role = "hod"
	RoleProjectManager       Role = "project_manager"
	RoleAuditor              Role = "auditor"
	RoleEmployee             Role = "employee"
	RoleIntern               Role = "intern"
	RoleStudent              Role = "student"
	RoleClient               Role = "client"
	RoleResearchCollaborator Role = "research_collaborator"
	RoleUser                 Role = "user"
)

// AllRoles returns every valid role.
func AllRoles() []Role {
	return []Role{
		RoleCEO, RoleContentManager, RoleFinanceManager, RoleHR, RoleHOD,
		RoleProjectManager, RoleAuditor, RoleEmployee, RoleIntern,
		RoleStudent, RoleClient, RoleResearchCollaborator, RoleUser,
	}
}

// Valid reports whether the role is a member of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleCEO, RoleContentManager, RoleFinanceManager, RoleHR, RoleHOD,
		RoleProjectManager, RoleAuditor, RoleEmployee, RoleIntern,
		RoleStudent, RoleClient, RoleResearchCollaborator, RoleUser:
		return true
	}
	return false
}

// ParseRole converts a wire string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role: %q", s)
	}
	return r, nil
}

// Category is the closed set of permission categories.
type Category string

const (
	CategoryUsers        Category = "users"
	CategoryRoles        Category = "roles"
	CategoryDepartments  Category = "departments"
	CategoryApplications Category = "applications"
	CategoryContent      Category = "content"
	CategoryPages        Category = "pages"
	CategoryPricing      Category = "pricing"
	CategoryPayments     Category = "payments"
	CategoryProjects     Category = "projects"
	CategoryAnalytics    Category = "analytics"
	CategoryAudit        Category = "audit"
	CategoryFiles        Category = "files"
)

// AllCategories returns every valid category.
func AllCategories() []Category {
	return []Category{
		CategoryUsers, CategoryRoles, CategoryDepartments, CategoryApplications,
		CategoryContent, CategoryPages, CategoryPricing, CategoryPayments,
		CategoryProjects, CategoryAnalytics, CategoryAudit, CategoryFiles,
	}
}

// Valid reports whether the category is a member of the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryUsers, CategoryRoles, CategoryDepartments, CategoryApplications,
		CategoryContent, CategoryPages, CategoryPricing, CategoryPayments,
		CategoryProjects, CategoryAnalytics, CategoryAudit, CategoryFiles:
		return true
	}
	return false
}

// ParseCategory converts a wire string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("invalid permission category: %q", s)
	}
	return c, nil
}

// Action is the closed set of permission actions.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionManage  Action = "manage"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionExport  Action = "export"
)

// Valid reports whether the action is a member of the closed set.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete,
		ActionManage, ActionApprove, ActionReject, ActionExport:
		return true
	}
	return false
}

// ParseAction converts a wire string into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("invalid permission action: %q", s)
	}
	return a, nil
}

// Permission is a catalog row granting a role an action within a category,
// optionally narrowed to a named resource.
type Permission struct {
	ID          int64     `json:"id"`
	Role        Role      `json:"role"`
	Category    Category  `json:"category"`
	Action      Action    `json:"action"`
	Resource    *string   `json:"resource,omitempty"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// String returns "category:action" for logging.
func (p Permission) String() string {
	return string(p.Category) + ":" + string(p.Action)
}

// AssignmentMetadata captures request provenance recorded with an assignment.
type AssignmentMetadata struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Assignment is one role held by one user, optionally scoped to a department
// and optionally expiring. The active (user, role, department) triple is
// unique; revoked rows remain as history.
//
// Expiry is lazy: a row whose expires_at has passed no longer contributes to
// effective roles even while is_active is still true. The sweeper eventually
// reconciles such rows.
type Assignment struct {
	ID           int64               `json:"id"`
	UserID       int64               `json:"user_id"`
	Role         Role                `json:"role"`
	DepartmentID *int64              `json:"department_id,omitempty"`
	AssignedBy   int64               `json:"assigned_by"`
	AssignedAt   time.Time           `json:"assigned_at"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
	IsActive     bool                `json:"is_active"`
	Reason       string              `json:"reason,omitempty"`
	Metadata     *AssignmentMetadata `json:"metadata,omitempty"`
}

// Expired reports whether the assignment's expiry has passed.
func (a Assignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// Effective reports whether the assignment currently grants its role.
func (a Assignment) Effective(now time.Time) bool {
	return a.IsActive && !a.Expired(now)
}

// Actor is the immutable authorization context attached to a request: the
// authenticated user and their effective roles, resolved once at the top of
// the request.
type Actor struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Roles  []Role `json:"roles"`
}

// HasRole reports whether the actor holds the given role.
func (a *Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the actor holds at least one of the given roles.
func (a *Actor) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if a.HasRole(r) {
			return true
		}
	}
	return false
}

// IsSuperRole is the single predicate deciding whether a role set bypasses
// every authorization gate. All gates defer to it; no gate re-implements the
// check.
func IsSuperRole(roles []Role) bool {
	for _, r := range roles {
		if r == RoleCEO {
			return true
		}
	}
	return false
}

// IsSuper reports whether the actor bypasses authorization gates.
func (a *Actor) IsSuper() bool {
	return IsSuperRole(a.Roles)
}

// ManagementRoles is the set of roles allowed onto the role mutation surface.
var ManagementRoles = []Role{
	RoleCEO, RoleHOD, RoleProjectManager,
	RoleContentManager, RoleFinanceManager, RoleHR,
}

// IsManagement reports whether the actor holds any management role.
func (a *Actor) IsManagement() bool {
	return a.HasAnyRole(ManagementRoles...)
}

// managedRoleSets limits which target role sets a manager role may act on.
// A manager covers a target only when every role the target holds is inside
// the manager's allow-list. CEO is unrestricted and is handled by IsSuperRole.
var managedRoleSets = map[Role][]Role{
	RoleHR:  {RoleEmployee, RoleIntern, RoleStudent, RoleUser},
	RoleHOD: {RoleEmployee, RoleIntern, RoleProjectManager},
}

// CanManageTarget decides whether actorRoles may mutate a target holding
// targetRoles. A target holding the super role is only manageable by another
// super-role holder.
func CanManageTarget(actorRoles, targetRoles []Role) bool {
	if IsSuperRole(actorRoles) {
		return true
	}
	if IsSuperRole(targetRoles) {
		return false
	}
	for _, actorRole := range actorRoles {
		allowed, ok := managedRoleSets[actorRole]
		if !ok {
			continue
		}
		if rolesSubset(targetRoles, allowed) {
			return true
		}
	}
	return false
}

func rolesSubset(roles, allowed []Role) bool {
	for _, r := range roles {
		found := false
		for _, a := range allowed {
			if r == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AuditAction is the closed set of assignment mutations recorded in the
// audit trail.
type AuditAction string

const (
	AuditAssign AuditAction = "assign"
	AuditRevoke AuditAction = "revoke"
	AuditExpire AuditAction = "expire"
	AuditModify AuditAction = "modify"
)

// Valid reports whether the audit action is a member of the closed set.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditAssign, AuditRevoke, AuditExpire, AuditModify:
		return true
	}
	return false
}
