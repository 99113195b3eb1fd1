package projects

import (
	"errors"
	"net/http"

	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/observability"
	"github.com/rosterd/rosterd/pkg/rbac"
)

// Handlers serves the project endpoints. The router applies the projects
// permission gates.
type Handlers struct {
	store  *Store
	logger *observability.Logger
}

// NewHandlers creates the project handlers.
func NewHandlers(store *Store, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

type projectPayload struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	DepartmentID *int64 `json:"department_id,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Create adds a project owned by the caller.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var payload projectPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if !httputil.RequireNonEmpty(w, payload.Name, "name") {
		return
	}
	status := StatusActive
	if payload.Status != "" {
		status = Status(payload.Status)
		if !status.Valid() {
			httputil.WriteBadRequest(w, "invalid project status")
			return
		}
	}

	project := &Project{
		Name:         payload.Name,
		Description:  payload.Description,
		DepartmentID: payload.DepartmentID,
		OwnerID:      actor.UserID,
		Status:       status,
	}
	if err := h.store.Create(r.Context(), project); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteCreatedMessage(w, "project created", project)
}

// Get returns one project.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	project, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// List returns projects newest first, filterable by ?department_id and
// ?status.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePageParams(r, 20)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var filter Filter
	if v, err := httputil.ParseQueryInt(r, "department_id", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	} else if v > 0 {
		id := int64(v)
		filter.DepartmentID = &id
	}
	if s := httputil.ParseQueryString(r, "status", ""); s != "" {
		status := Status(s)
		if !status.Valid() {
			httputil.WriteBadRequest(w, "invalid project status")
			return
		}
		filter.Status = &status
	}

	projects, total, err := h.store.List(r.Context(), filter, page.Limit, page.Offset())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WritePage(w, projects, httputil.NewPagination(page.Page, page.Limit, total))
}

// Update rewrites a project.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var payload projectPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}

	project, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if payload.Name != "" {
		project.Name = payload.Name
	}
	if payload.Description != "" {
		project.Description = payload.Description
	}
	if payload.DepartmentID != nil {
		project.DepartmentID = payload.DepartmentID
	}
	if payload.Status != "" {
		status := Status(payload.Status)
		if !status.Valid() {
			httputil.WriteBadRequest(w, "invalid project status")
			return
		}
		project.Status = status
	}

	if err := h.store.Update(r.Context(), project); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccessMessage(w, "project updated", project)
}

// Delete removes a project.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccessMessage(w, "project deleted", nil)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrProjectNotFound):
		httputil.WriteNotFound(w, "project not found")
	default:
		httputil.GetLogger(r).WithError(err).Error("project operation failed")
		httputil.WriteInternalError(w, err)
	}
}
