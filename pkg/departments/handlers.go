package departments

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/observability"
)

// Handlers serves the department endpoints. Authorization is applied by the
// router: reads sit behind departments:read, writes behind departments
// update or manage.
type Handlers struct {
	store  *Store
	logger *observability.Logger
}

// NewHandlers creates the department handlers.
func NewHandlers(store *Store, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

type departmentPayload struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	HeadUserID  *int64 `json:"head_user_id,omitempty"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

// Create adds a department.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var payload departmentPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	payload.Code = strings.ToUpper(strings.TrimSpace(payload.Code))
	if !httputil.RequireNonEmpty(w, payload.Name, "name") ||
		!httputil.RequireNonEmpty(w, payload.Code, "code") {
		return
	}

	department := &Department{
		Name:        payload.Name,
		Code:        payload.Code,
		Description: payload.Description,
		HeadUserID:  payload.HeadUserID,
	}
	if err := h.store.Create(r.Context(), department); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteCreatedMessage(w, "department created", department)
}

// Get returns one department.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	department, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, department)
}

// List returns active departments by name, all of them with ?all=true.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePageParams(r, 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	all, err := httputil.ParseQueryBool(r, "all", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	departments, total, err := h.store.List(r.Context(), all, page.Limit, page.Offset())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WritePage(w, departments, httputil.NewPagination(page.Page, page.Limit, total))
}

// Update rewrites a department.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var payload departmentPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}

	department, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if payload.Name != "" {
		department.Name = payload.Name
	}
	if payload.Code != "" {
		department.Code = strings.ToUpper(strings.TrimSpace(payload.Code))
	}
	if payload.Description != "" {
		department.Description = payload.Description
	}
	if payload.HeadUserID != nil {
		department.HeadUserID = payload.HeadUserID
	}
	if payload.IsActive != nil {
		department.IsActive = *payload.IsActive
	}

	if err := h.store.Update(r.Context(), department); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccessMessage(w, "department updated", department)
}

// Delete retires a department.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Deactivate(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccessMessage(w, "department deactivated", nil)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrDepartmentNotFound):
		httputil.WriteNotFound(w, "department not found")
	case errors.Is(err, ErrDuplicateCode):
		httputil.WriteConflict(w, "department code already in use")
	default:
		httputil.GetLogger(r).WithError(err).Error("department operation failed")
		httputil.WriteInternalError(w, err)
	}
}
