package invites

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/identity"
	"github.com/rosterd/rosterd/pkg/observability"
	"github.com/rosterd/rosterd/pkg/rbac"
)

// Handlers serves the invitation endpoints.
type Handlers struct {
	service *Service
	tokens  *identity.TokenIssuer
	logger  *observability.Logger
}

// NewHandlers creates the invitation handlers.
func NewHandlers(service *Service, tokens *identity.TokenIssuer, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, tokens: tokens, logger: logger}
}

// RegisterPublicRoutes attaches the endpoints the invitee reaches before
// having an account.
func (h *Handlers) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/token/{token}", h.Lookup).Methods(http.MethodGet)
	r.HandleFunc("/accept/{token}", h.Accept).Methods(http.MethodPost)
}

// RegisterManagementRoutes attaches the endpoints behind the management gate.
func (h *Handlers) RegisterManagementRoutes(r *mux.Router) {
	r.HandleFunc("", h.Send).Methods(http.MethodPost)
	r.HandleFunc("", h.List).Methods(http.MethodGet)
	r.HandleFunc("/{id:[0-9]+}", h.Revoke).Methods(http.MethodDelete)
	r.HandleFunc("/{id:[0-9]+}/resend", h.Resend).Methods(http.MethodPost)
}

type sendPayload struct {
	Email        string `json:"email"`
	Role         string `json:"role"`
	DepartmentID *int64 `json:"department_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Send creates a pending invitation.
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var payload sendPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	if !httputil.RequireNonEmpty(w, payload.Email, "email") {
		return
	}
	role, err := rbac.ParseRole(payload.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !rbac.CanManageTarget(actor.Roles, []rbac.Role{role}) {
		httputil.WriteForbidden(w, "insufficient privileges to invite into this role")
		return
	}

	inv, err := h.service.Send(r.Context(), SendRequest{
		Email:        payload.Email,
		Role:         role,
		DepartmentID: payload.DepartmentID,
		Message:      payload.Message,
		InvitedBy:    actor.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteCreatedMessage(w, "invitation sent", inv)
}

// List returns invitations newest first, optionally filtered by ?status.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePageParams(r, 20)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var status *Status
	if s := httputil.ParseQueryString(r, "status", ""); s != "" {
		parsed := Status(s)
		if !parsed.Valid() {
			httputil.WriteBadRequest(w, "invalid invitation status")
			return
		}
		status = &parsed
	}

	invitations, total, err := h.service.Store().List(r.Context(), status, page.Limit, page.Offset())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WritePage(w, invitations, httputil.NewPagination(page.Page, page.Limit, total))
}

// Lookup returns the invitation behind a token so the invitee can see what
// they were invited to. Settled invitations are reported as unusable.
func (h *Handlers) Lookup(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	inv, err := h.service.Lookup(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if inv.Status != StatusPending {
		httputil.WriteBadRequest(w, (&StatusError{Status: inv.Status}).Error())
		return
	}

	// The invitee already holds the token; no need to echo it back.
	inv.Token = ""
	httputil.WriteSuccess(w, inv)
}

type acceptPayload struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type acceptResponse struct {
	User  *identity.User `json:"user"`
	Roles []rbac.Role    `json:"roles"`
	Token string         `json:"token"`
}

// Accept creates the invitee's account with the invited role and returns a
// bearer token.
func (h *Handlers) Accept(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	var payload acceptPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if !httputil.RequireNonEmpty(w, payload.Name, "name") {
		return
	}

	user, inv, err := h.service.Accept(r.Context(), AcceptRequest{
		Token:    token,
		Name:     payload.Name,
		Password: payload.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	bearer, err := h.tokens.Issue(user.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreatedMessage(w, "invitation accepted", acceptResponse{
		User:  user,
		Roles: []rbac.Role{inv.Role},
		Token: bearer,
	})
}

// Revoke cancels a pending invitation.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Revoke(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccessMessage(w, "invitation revoked", nil)
}

// Resend replaces a pending invitation with a fresh token and deadline.
func (h *Handlers) Resend(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	inv, err := h.service.Resend(r.Context(), id, actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreatedMessage(w, "invitation resent", inv)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrInvitationNotFound):
		httputil.WriteNotFound(w, "invitation not found")
	case errors.Is(err, ErrEmailTaken):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrAlreadyInvited):
		httputil.WriteConflict(w, err.Error())
	case errors.As(err, &statusErr):
		httputil.WriteBadRequest(w, statusErr.Error())
	case errors.Is(err, identity.ErrWeakPassword):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, identity.ErrDuplicateEmail):
		httputil.WriteConflict(w, "email already registered")
	default:
		httputil.GetLogger(r).WithError(err).Error("invitation operation failed")
		httputil.WriteInternalError(w, err)
	}
}
