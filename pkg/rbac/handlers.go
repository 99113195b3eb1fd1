package rbac

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/observability"
)

// Handlers serves the role assignment endpoints.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates the role assignment handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterReadRoutes attaches the endpoints open to any authenticated caller.
func (h *Handlers) RegisterReadRoutes(r *mux.Router) {
	r.HandleFunc("/user/{id:[0-9]+}", h.UserAssignments).Methods(http.MethodGet)
}

// RegisterManagementRoutes attaches the endpoints any management role may
// call. Per-target scope is enforced inside the handlers.
func (h *Handlers) RegisterManagementRoutes(r *mux.Router) {
	r.HandleFunc("/assign", h.Assign).Methods(http.MethodPost)
	r.HandleFunc("/revoke", h.Revoke).Methods(http.MethodPost)
}

// RegisterAdminRoutes attaches the endpoints reserved for the super role.
func (h *Handlers) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/bulk-assign", h.BulkAssign).Methods(http.MethodPost)
	r.HandleFunc("/{id:[0-9]+}", h.Update).Methods(http.MethodPut)
	r.HandleFunc("/list/{role}", h.UsersByRole).Methods(http.MethodGet)
}

type assignPayload struct {
	UserID       int64      `json:"user_id"`
	Role         string     `json:"role"`
	DepartmentID *int64     `json:"department_id,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// Assign grants a role to a user.
func (h *Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var payload assignPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if !httputil.RequirePositive(w, payload.UserID, "user_id") {
		return
	}
	role, err := ParseRole(payload.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if payload.ExpiresAt != nil && !payload.ExpiresAt.After(time.Now()) {
		httputil.WriteBadRequest(w, "expires_at must be in the future")
		return
	}

	if !h.authorizeTarget(w, r, actor, payload.UserID) {
		return
	}
	// The granted role itself must be within the actor's scope, not just
	// the target's current roles.
	if !CanManageTarget(actor.Roles, []Role{role}) {
		httputil.WriteForbidden(w, "insufficient privileges to grant this role")
		return
	}

	assignment, err := h.service.AssignRole(r.Context(), AssignRequest{
		UserID:       payload.UserID,
		Role:         role,
		DepartmentID: payload.DepartmentID,
		ExpiresAt:    payload.ExpiresAt,
		Reason:       payload.Reason,
		PerformedBy:  actor.UserID,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteCreatedMessage(w, "role assigned", assignment)
}

type revokePayload struct {
	UserID       int64  `json:"user_id"`
	Role         string `json:"role"`
	DepartmentID *int64 `json:"department_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Revoke deactivates a user's active role assignment.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var payload revokePayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if !httputil.RequirePositive(w, payload.UserID, "user_id") {
		return
	}
	role, err := ParseRole(payload.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if !h.authorizeTarget(w, r, actor, payload.UserID) {
		return
	}

	err = h.service.RevokeRole(r.Context(), RevokeRequest{
		UserID:       payload.UserID,
		Role:         role,
		DepartmentID: payload.DepartmentID,
		Reason:       payload.Reason,
		PerformedBy:  actor.UserID,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccessMessage(w, "role revoked", nil)
}

type bulkPayload struct {
	Assignments []BulkItem `json:"assignments"`
	Reason      string     `json:"reason,omitempty"`
}

// BulkAssign grants roles to several users, reporting per-item outcomes.
func (h *Handlers) BulkAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var payload bulkPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if len(payload.Assignments) == 0 {
		httputil.WriteBadRequest(w, "assignments must not be empty")
		return
	}

	result := h.service.BulkAssign(r.Context(), actor.UserID, payload.Reason, clientIP(r), r.UserAgent(), payload.Assignments)
	httputil.WriteSuccess(w, result)
}

// UserAssignments lists one user's assignments. Effective assignments only
// unless ?all=true.
func (h *Handlers) UserAssignments(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	all, err := httputil.ParseQueryBool(r, "all", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	assignments, err := h.service.Store().ListUserAssignments(r.Context(), userID, !all)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, assignments)
}

// UsersByRole lists the active assignments of one role, paginated.
func (h *Handlers) UsersByRole(w http.ResponseWriter, r *http.Request) {
	roleStr, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}
	role, err := ParseRole(roleStr)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	page, err := httputil.ParsePageParams(r, 20)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	assignments, total, err := h.service.Store().ListUsersByRole(r.Context(), role, page.Limit, page.Offset())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WritePage(w, assignments, httputil.NewPagination(page.Page, page.Limit, total))
}

type updatePayload struct {
	DepartmentID *int64     `json:"department_id"`
	ExpiresAt    *time.Time `json:"expires_at"`
	IsActive     *bool      `json:"is_active"`
	Reason       string     `json:"reason,omitempty"`
}

// Update modifies an assignment's department, expiry, or active flag. Fields
// absent from the body are left unchanged.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	assignmentID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	// Track key presence so null can clear department or expiry.
	var raw map[string]interface{}
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	defer body.Close()
	var payload updatePayload
	if !decodeSparse(w, body, &raw, &payload) {
		return
	}
	_, setDepartment := raw["department_id"]
	_, setExpiry := raw["expires_at"]

	assignment, err := h.service.UpdateAssignment(r.Context(), UpdateRequest{
		AssignmentID:  assignmentID,
		DepartmentID:  payload.DepartmentID,
		SetDepartment: setDepartment,
		ExpiresAt:     payload.ExpiresAt,
		SetExpiry:     setExpiry,
		IsActive:      payload.IsActive,
		Reason:        payload.Reason,
		PerformedBy:   actor.UserID,
		IPAddress:     clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccessMessage(w, "assignment updated", assignment)
}

// authorizeTarget enforces management scope: the actor's roles must cover
// every role the target currently holds.
func (h *Handlers) authorizeTarget(w http.ResponseWriter, r *http.Request, actor *Actor, targetID int64) bool {
	targetRoles, err := h.service.Store().EffectiveRoles(r.Context(), targetID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return false
	}
	if !CanManageTarget(actor.Roles, targetRoles) {
		httputil.WriteForbidden(w, "insufficient privileges to manage this user")
		return false
	}
	return true
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownUser):
		httputil.WriteNotFound(w, "user not found")
	case errors.Is(err, ErrAssignmentNotFound):
		httputil.WriteNotFound(w, "assignment not found")
	case errors.Is(err, ErrDuplicateAssignment):
		httputil.WriteConflict(w, "user already has this active role")
	default:
		httputil.GetLogger(r).WithError(err).Error("role operation failed")
		httputil.WriteInternalError(w, err)
	}
}

// decodeSparse unmarshals the body into both a key-presence map and the
// typed payload, so explicit nulls are distinguishable from absent fields.
func decodeSparse(w http.ResponseWriter, body io.Reader, raw *map[string]interface{}, dest interface{}) bool {
	data, err := io.ReadAll(body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(data, raw); err != nil {
		httputil.WriteBadRequest(w, "invalid JSON body")
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		httputil.WriteBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
