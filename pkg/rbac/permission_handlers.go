package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/observability"
)

// PermissionHandlers serves the permission catalog endpoints.
type PermissionHandlers struct {
	store   *Store
	checker *Checker
	logger  *observability.Logger
}

// NewPermissionHandlers creates the permission catalog handlers.
func NewPermissionHandlers(store *Store, checker *Checker, logger *observability.Logger) *PermissionHandlers {
	return &PermissionHandlers{store: store, checker: checker, logger: logger}
}

// RegisterReadRoutes attaches the endpoints any authenticated user may call.
func (h *PermissionHandlers) RegisterReadRoutes(r *mux.Router) {
	r.HandleFunc("/check", h.Check).Methods(http.MethodGet)
	r.HandleFunc("/role/{role}", h.RoleGrants).Methods(http.MethodGet)
	r.HandleFunc("/user/{id:[0-9]+}", h.UserGrants).Methods(http.MethodGet)
}

// RegisterAdminRoutes attaches the catalog mutation endpoints.
func (h *PermissionHandlers) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("", h.List).Methods(http.MethodGet)
	r.HandleFunc("", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/{id:[0-9]+}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/{id:[0-9]+}", h.UpdateCatalog).Methods(http.MethodPut)
	r.HandleFunc("/{id:[0-9]+}", h.Delete).Methods(http.MethodDelete)
}

type permissionPayload struct {
	Role        string  `json:"role"`
	Category    string  `json:"category"`
	Action      string  `json:"action"`
	Resource    *string `json:"resource,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Create adds a grant to the catalog.
func (h *PermissionHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var payload permissionPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}

	role, err := ParseRole(payload.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	category, err := ParseCategory(payload.Category)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	action, err := ParseAction(payload.Action)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	permission := &Permission{
		Role:        role,
		Category:    category,
		Action:      action,
		Resource:    payload.Resource,
		Description: payload.Description,
		IsActive:    true,
	}
	if err := h.store.CreatePermission(r.Context(), permission); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteCreatedMessage(w, "permission created", permission)
}

// Get returns one catalog row.
func (h *PermissionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	permission, err := h.store.GetPermission(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permission)
}

// List returns the catalog, optionally filtered by role, category, action,
// or active flag.
func (h *PermissionHandlers) List(w http.ResponseWriter, r *http.Request) {
	var filter PermissionFilter
	if s := httputil.ParseQueryString(r, "role", ""); s != "" {
		role, err := ParseRole(s)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		filter.Role = &role
	}
	if s := httputil.ParseQueryString(r, "category", ""); s != "" {
		category, err := ParseCategory(s)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		filter.Category = &category
	}
	if s := httputil.ParseQueryString(r, "action", ""); s != "" {
		action, err := ParseAction(s)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		filter.Action = &action
	}
	if r.URL.Query().Has("is_active") {
		active, err := httputil.ParseQueryBool(r, "is_active", true)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		filter.IsActive = &active
	}

	permissions, err := h.store.ListPermissions(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

type permissionUpdatePayload struct {
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// UpdateCatalog changes a grant's description or active flag. The grant
// triple itself is immutable; delete and recreate to change it.
func (h *PermissionHandlers) UpdateCatalog(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var payload permissionUpdatePayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if payload.Description == nil && payload.IsActive == nil {
		httputil.WriteBadRequest(w, "nothing to update")
		return
	}

	permission, err := h.store.UpdatePermission(r.Context(), id, payload.Description, payload.IsActive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccessMessage(w, "permission updated", permission)
}

// Delete removes a grant from the catalog.
func (h *PermissionHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeletePermission(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccessMessage(w, "permission deleted", nil)
}

type checkResult struct {
	Role     Role     `json:"role"`
	Category Category `json:"category"`
	Action   Action   `json:"action"`
	Allowed  bool     `json:"allowed"`
}

// Check answers whether a role holds a capability. A manage grant on the
// category satisfies any requested action.
func (h *PermissionHandlers) Check(w http.ResponseWriter, r *http.Request) {
	role, err := ParseRole(httputil.ParseQueryString(r, "role", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	category, err := ParseCategory(httputil.ParseQueryString(r, "category", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	action, err := ParseAction(httputil.ParseQueryString(r, "action", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var resource *string
	if s := httputil.ParseQueryString(r, "resource", ""); s != "" {
		resource = &s
	}

	allowed, err := h.checker.Allowed(r.Context(), []Role{role}, category, action, resource)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, checkResult{Role: role, Category: category, Action: action, Allowed: allowed})
}

// RoleGrants lists one role's active grants.
func (h *PermissionHandlers) RoleGrants(w http.ResponseWriter, r *http.Request) {
	roleStr, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}
	role, err := ParseRole(roleStr)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	permissions, err := h.store.RolePermissions(r.Context(), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

type userGrants struct {
	UserID      int64                     `json:"user_id"`
	Roles       []Role                    `json:"roles"`
	Permissions map[Category][]Permission `json:"permissions"`
}

// UserGrants returns a user's effective roles and the union of their grants,
// grouped by category.
func (h *PermissionHandlers) UserGrants(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	roles, err := h.store.EffectiveRoles(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	grouped := map[Category][]Permission{}
	if len(roles) > 0 {
		permissions, err := h.store.PermissionsForRoles(r.Context(), roles)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		for _, p := range permissions {
			grouped[p.Category] = append(grouped[p.Category], *p)
		}
	}

	httputil.WriteSuccess(w, userGrants{UserID: userID, Roles: roles, Permissions: grouped})
}

func (h *PermissionHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrPermissionNotFound):
		httputil.WriteNotFound(w, "permission not found")
	case errors.Is(err, ErrDuplicatePermission):
		httputil.WriteConflict(w, "permission already exists")
	default:
		httputil.GetLogger(r).WithError(err).Error("permission operation failed")
		httputil.WriteInternalError(w, err)
	}
}
