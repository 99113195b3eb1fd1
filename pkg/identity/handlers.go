package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rosterd/rosterd/pkg/audit"
	"github.com/rosterd/rosterd/pkg/contextkeys"
	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/observability"
	"github.com/rosterd/rosterd/pkg/rbac"
)

// Handlers serves registration, login, and the current-user endpoint.
type Handlers struct {
	store   *Store
	hasher  *Hasher
	tokens  *TokenIssuer
	roles   *rbac.Service
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewHandlers creates the identity handlers. metrics may be nil.
func NewHandlers(store *Store, hasher *Hasher, tokens *TokenIssuer, roles *rbac.Service, logger *observability.Logger, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		store:   store,
		hasher:  hasher,
		tokens:  tokens,
		roles:   roles,
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterPublicRoutes attaches the unauthenticated endpoints.
func (h *Handlers) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
}

// RegisterAuthedRoutes attaches the endpoints that require a bearer token.
func (h *Handlers) RegisterAuthedRoutes(r *mux.Router) {
	r.HandleFunc("/me", h.Me).Methods(http.MethodGet)
}

type registerPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  *User       `json:"user"`
	Roles []rbac.Role `json:"roles"`
	Token string      `json:"token"`
}

// Register creates an account, grants the default client role, and returns a
// bearer token. The account and its role assignment commit together.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var payload registerPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	if !httputil.RequireNonEmpty(w, payload.Name, "name") ||
		!httputil.RequireNonEmpty(w, payload.Email, "email") {
		return
	}

	hash, err := h.hasher.Hash(payload.Password)
	if err != nil {
		if errors.Is(err, ErrWeakPassword) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		h.countAuth("register", "error")
		httputil.WriteInternalError(w, err)
		return
	}

	user := &User{Name: payload.Name, Email: payload.Email, PasswordHash: hash}

	tx, err := h.store.DB().BeginTx(r.Context(), nil)
	if err != nil {
		h.countAuth("register", "error")
		httputil.WriteInternalError(w, err)
		return
	}
	defer tx.Rollback()

	if err := h.store.CreateUser(r.Context(), tx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			h.countAuth("register", "conflict")
			httputil.WriteConflict(w, "email already registered")
			return
		}
		h.countAuth("register", "error")
		httputil.GetLogger(r).WithError(err).Error("registration failed")
		httputil.WriteInternalError(w, err)
		return
	}

	assignment := &rbac.Assignment{
		UserID:     user.ID,
		Role:       rbac.RoleClient,
		AssignedBy: user.ID,
		Reason:     "self-registration",
	}
	err = h.roles.Grant(r.Context(), tx, assignment, &audit.Metadata{UserAgent: r.UserAgent()})
	if err != nil {
		h.countAuth("register", "error")
		httputil.GetLogger(r).WithError(err).Error("default role grant failed")
		httputil.WriteInternalError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		h.countAuth("register", "error")
		httputil.WriteInternalError(w, err)
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.countAuth("register", "error")
		httputil.WriteInternalError(w, err)
		return
	}

	h.countAuth("register", "ok")
	h.countToken()
	h.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"email":   user.Email,
	}).Info("user registered")
	httputil.WriteCreatedMessage(w, "registration successful", authResponse{
		User:  user,
		Roles: []rbac.Role{rbac.RoleClient},
		Token: token,
	})
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and returns a bearer token. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	if !httputil.RequireNonEmpty(w, payload.Email, "email") ||
		!httputil.RequireNonEmpty(w, payload.Password, "password") {
		return
	}

	user, err := h.store.GetByEmail(r.Context(), payload.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			h.countAuth("login", "denied")
			httputil.WriteUnauthorized(w, "invalid credentials")
			return
		}
		h.countAuth("login", "error")
		httputil.GetLogger(r).WithError(err).Error("login lookup failed")
		httputil.WriteInternalError(w, err)
		return
	}

	if !h.hasher.Verify(user.PasswordHash, payload.Password) {
		h.countAuth("login", "denied")
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}

	roles, err := h.roles.Store().EffectiveRoles(r.Context(), user.ID)
	if err != nil {
		h.countAuth("login", "error")
		httputil.GetLogger(r).WithError(err).Error("login role lookup failed")
		httputil.WriteInternalError(w, err)
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.countAuth("login", "error")
		httputil.WriteInternalError(w, err)
		return
	}

	h.countAuth("login", "ok")
	h.countToken()
	httputil.WriteSuccessMessage(w, "login successful", authResponse{
		User:  user,
		Roles: roles,
		Token: token,
	})
}

type meResponse struct {
	User  *User       `json:"user"`
	Roles []rbac.Role `json:"roles"`
}

// Me returns the authenticated user with a fresh read of their roles.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == 0 {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.store.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			httputil.WriteUnauthorized(w, "account no longer exists")
			return
		}
		httputil.GetLogger(r).WithError(err).Error("current user lookup failed")
		httputil.WriteInternalError(w, err)
		return
	}

	roles, err := h.roles.Store().EffectiveRoles(r.Context(), user.ID)
	if err != nil {
		httputil.GetLogger(r).WithError(err).Error("current user role lookup failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, meResponse{User: user, Roles: roles})
}

func (h *Handlers) countAuth(operation, status string) {
	if h.metrics != nil {
		h.metrics.AuthAttemptsTotal.WithLabelValues(operation, status).Inc()
	}
}

func (h *Handlers) countToken() {
	if h.metrics != nil {
		h.metrics.TokensIssuedTotal.Inc()
	}
}
