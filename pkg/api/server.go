// Package api assembles the HTTP surface: it owns the router, applies the
// middleware chain, and maps every route to its authorization gate.
package api

import (
	"net/http"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/rosterd/rosterd/pkg/audit"
	"github.com/rosterd/rosterd/pkg/config"
	"github.com/rosterd/rosterd/pkg/departments"
	"github.com/rosterd/rosterd/pkg/files"
	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/identity"
	"github.com/rosterd/rosterd/pkg/invites"
	"github.com/rosterd/rosterd/pkg/middleware"
	"github.com/rosterd/rosterd/pkg/observability"
	"github.com/rosterd/rosterd/pkg/projects"
	"github.com/rosterd/rosterd/pkg/rbac"
)

// Deps carries everything the server wires together. File handling is
// optional; the file routes only exist when Files is non-nil.
type Deps struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Redis   *goredis.Client

	Identity    *identity.Handlers
	Auth        *middleware.AuthMiddleware
	Roles       *rbac.Handlers
	Permissions *rbac.PermissionHandlers
	Checker     *rbac.Checker
	Audit       *audit.Handlers
	Invites     *invites.Handlers
	Departments *departments.Handlers
	Projects    *projects.Handlers
	Files       *files.Handlers
}

// Server is the assembled API router.
type Server struct {
	router *mux.Router
	deps   Deps
}

// NewServer builds the router with the full middleware chain and route map.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	cfg := s.deps.Config
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.deps.Logger),
		httputil.RecoveryMiddleware(s.deps.Logger),
		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics, routeTemplate))
	}
}

func (s *Server) setupRoutes() {
	cfg := s.deps.Config

	authLimit := middleware.RateLimit(
		middleware.NewLimiter(s.deps.Redis, cfg.RateLimits.Auth, "rl:auth"),
		"auth", s.deps.Metrics, s.deps.Logger)
	rolesLimit := middleware.RateLimit(
		middleware.NewLimiter(s.deps.Redis, cfg.RateLimits.Roles, "rl:roles"),
		"roles", s.deps.Metrics, s.deps.Logger)
	generalLimit := middleware.RateLimit(
		middleware.NewLimiter(s.deps.Redis, cfg.RateLimits.General, "rl:general"),
		"general", s.deps.Metrics, s.deps.Logger)

	api := s.router.PathPrefix("/api").Subrouter()

	// Credential endpoints carry the strictest budget.
	authPublic := api.PathPrefix("/auth").Subrouter()
	authPublic.Use(authLimit)
	s.deps.Identity.RegisterPublicRoutes(authPublic)

	// Invitation tokens are reachable without an account.
	invitesPublic := api.PathPrefix("/invitations").Subrouter()
	invitesPublic.Use(authLimit)
	s.deps.Invites.RegisterPublicRoutes(invitesPublic)

	// Everything below requires a bearer token.
	authed := api.NewRoute().Subrouter()
	authed.Use(s.deps.Auth.Handler, generalLimit)

	me := authed.PathPrefix("/auth").Subrouter()
	s.deps.Identity.RegisterAuthedRoutes(me)

	rolesRead := authed.PathPrefix("/roles").Subrouter()
	rolesRead.Use(rolesLimit)
	s.deps.Roles.RegisterReadRoutes(rolesRead)

	rolesManagement := authed.PathPrefix("/roles").Subrouter()
	rolesManagement.Use(rolesLimit, rbac.RequireManagement())
	s.deps.Roles.RegisterManagementRoutes(rolesManagement)

	rolesAdmin := authed.PathPrefix("/roles").Subrouter()
	rolesAdmin.Use(rolesLimit, rbac.RequireRoles(rbac.RoleCEO))
	s.deps.Roles.RegisterAdminRoutes(rolesAdmin)

	permissionsRead := authed.PathPrefix("/permissions").Subrouter()
	s.deps.Permissions.RegisterReadRoutes(permissionsRead)

	permissionsAdmin := authed.PathPrefix("/permissions").Subrouter()
	permissionsAdmin.Use(rbac.RequireRoles(rbac.RoleCEO))
	s.deps.Permissions.RegisterAdminRoutes(permissionsAdmin)

	invitesManagement := authed.PathPrefix("/invitations").Subrouter()
	invitesManagement.Use(rbac.RequireManagement())
	s.deps.Invites.RegisterManagementRoutes(invitesManagement)

	auditRead := authed.PathPrefix("/audit").Subrouter()
	auditRead.Use(s.perm(rbac.CategoryAudit, rbac.ActionRead))
	s.deps.Audit.RegisterRoutes(auditRead)

	auditAdmin := authed.PathPrefix("/audit").Subrouter()
	auditAdmin.Use(s.perm(rbac.CategoryAudit, rbac.ActionExport))
	s.deps.Audit.RegisterAdminRoutes(auditAdmin)

	s.setupDepartmentRoutes(authed)
	s.setupProjectRoutes(authed)
	if s.deps.Files != nil {
		s.setupFileRoutes(authed)
	}
}

// setupDepartmentRoutes maps each method onto its matching catalog action so
// a role holding only departments:update cannot create or delete.
func (s *Server) setupDepartmentRoutes(authed *mux.Router) {
	h := s.deps.Departments
	r := authed.PathPrefix("/departments").Subrouter()

	r.Handle("", s.gate(rbac.CategoryDepartments, rbac.ActionRead, h.List)).Methods(http.MethodGet)
	r.Handle("/{id:[0-9]+}", s.gate(rbac.CategoryDepartments, rbac.ActionRead, h.Get)).Methods(http.MethodGet)
	r.Handle("", s.gate(rbac.CategoryDepartments, rbac.ActionCreate, h.Create)).Methods(http.MethodPost)
	r.Handle("/{id:[0-9]+}", s.gate(rbac.CategoryDepartments, rbac.ActionUpdate, h.Update)).Methods(http.MethodPut)
	r.Handle("/{id:[0-9]+}", s.gate(rbac.CategoryDepartments, rbac.ActionDelete, h.Delete)).Methods(http.MethodDelete)
}

func (s *Server) setupProjectRoutes(authed *mux.Router) {
	h := s.deps.Projects
	r := authed.PathPrefix("/projects").Subrouter()

	r.Handle("", s.gate(rbac.CategoryProjects, rbac.ActionRead, h.List)).Methods(http.MethodGet)
	r.Handle("/{id:[0-9]+}", s.gate(rbac.CategoryProjects, rbac.ActionRead, h.Get)).Methods(http.MethodGet)
	r.Handle("", s.gate(rbac.CategoryProjects, rbac.ActionCreate, h.Create)).Methods(http.MethodPost)
	r.Handle("/{id:[0-9]+}", s.gate(rbac.CategoryProjects, rbac.ActionUpdate, h.Update)).Methods(http.MethodPut)
	r.Handle("/{id:[0-9]+}", s.gate(rbac.CategoryProjects, rbac.ActionDelete, h.Delete)).Methods(http.MethodDelete)
}

func (s *Server) setupFileRoutes(authed *mux.Router) {
	h := s.deps.Files
	r := authed.PathPrefix("/files").Subrouter()

	r.Handle("", s.gate(rbac.CategoryFiles, rbac.ActionRead, h.List)).Methods(http.MethodGet)
	r.Handle("/{id:[0-9]+}", s.gate(rbac.CategoryFiles, rbac.ActionRead, h.Download)).Methods(http.MethodGet)
	r.Handle("", s.gate(rbac.CategoryFiles, rbac.ActionCreate, h.Upload)).Methods(http.MethodPost)
	r.Handle("/{id:[0-9]+}", s.gate(rbac.CategoryFiles, rbac.ActionDelete, h.Delete)).Methods(http.MethodDelete)
}

func (s *Server) perm(category rbac.Category, action rbac.Action) mux.MiddlewareFunc {
	return mux.MiddlewareFunc(rbac.RequirePermission(s.deps.Checker, category, action))
}

func (s *Server) gate(category rbac.Category, action rbac.Action, handler http.HandlerFunc) http.Handler {
	return rbac.RequirePermission(s.deps.Checker, category, action)(handler)
}

// routeTemplate returns the mux route template so metrics cardinality stays
// bounded by the route table, not by path values.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
