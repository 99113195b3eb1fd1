package audit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/observability"
)

// Handlers serves the audit trail endpoints.
type Handlers struct {
	store  *Store
	logger *observability.Logger
}

// NewHandlers creates the audit handlers.
func NewHandlers(store *Store, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

// RegisterRoutes attaches the management-level audit endpoints.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.Search).Methods(http.MethodGet)
	r.HandleFunc("/recent", h.Recent).Methods(http.MethodGet)
	r.HandleFunc("/user/{id:[0-9]+}", h.UserHistory).Methods(http.MethodGet)
}

// RegisterAdminRoutes attaches the reporting endpoints.
func (h *Handlers) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/statistics", h.Statistics).Methods(http.MethodGet)
	r.HandleFunc("/export", h.ExportTrail).Methods(http.MethodGet)
}

func parseFilter(r *http.Request) (Filter, *httputil.PageParams, error) {
	page, err := httputil.ParsePageParams(r, 50)
	if err != nil {
		return Filter{}, nil, err
	}

	filter := Filter{Limit: page.Limit, Offset: page.Offset()}
	if v, err := httputil.ParseQueryInt(r, "user_id", 0); err != nil {
		return Filter{}, nil, err
	} else if v > 0 {
		id := int64(v)
		filter.UserID = &id
	}
	if v, err := httputil.ParseQueryInt(r, "performed_by", 0); err != nil {
		return Filter{}, nil, err
	} else if v > 0 {
		id := int64(v)
		filter.PerformedBy = &id
	}
	if s := httputil.ParseQueryString(r, "role", ""); s != "" {
		filter.Role = &s
	}
	if s := httputil.ParseQueryString(r, "action", ""); s != "" {
		filter.Action = &s
	}
	start, err := httputil.ParseQueryTime(r, "start_date")
	if err != nil {
		return Filter{}, nil, err
	}
	filter.StartDate = start
	end, err := httputil.ParseQueryTime(r, "end_date")
	if err != nil {
		return Filter{}, nil, err
	}
	filter.EndDate = end

	return filter, &page, nil
}

// Search lists audit entries matching the query filters, newest first.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, total, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.GetLogger(r).WithError(err).Error("audit search failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WritePage(w, entries, httputil.NewPagination(page.Page, page.Limit, total))
}

// Recent returns the latest entries across all users.
func (h *Handlers) Recent(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 20)
	if err != nil || limit < 1 || limit > 100 {
		httputil.WriteBadRequest(w, "limit must be between 1 and 100")
		return
	}

	entries, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		httputil.GetLogger(r).WithError(err).Error("audit recent failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}

// UserHistory lists one user's audit entries, newest first.
func (h *Handlers) UserHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	page, err := httputil.ParsePageParams(r, 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, total, err := h.store.UserHistory(r.Context(), userID, page.Limit, page.Offset())
	if err != nil {
		httputil.GetLogger(r).WithError(err).Error("audit history failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WritePage(w, entries, httputil.NewPagination(page.Page, page.Limit, total))
}

// Statistics summarizes the trail since ?days ago (default 30): totals,
// per-action and per-role counts, top performers, and a daily timeline.
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.ParseQueryInt(r, "days", 30)
	if err != nil || days < 1 || days > 365 {
		httputil.WriteBadRequest(w, "days must be between 1 and 365")
		return
	}

	since := time.Now().AddDate(0, 0, -days)
	stats, err := h.store.Stats(r.Context(), since, 10)
	if err != nil {
		httputil.GetLogger(r).WithError(err).Error("audit statistics failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

const exportLimit = 10000

// ExportTrail streams matching entries as CSV or JSON.
func (h *Handlers) ExportTrail(w http.ResponseWriter, r *http.Request) {
	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportCSV)))
	if !format.Valid() {
		httputil.WriteBadRequest(w, fmt.Sprintf("invalid export format: %q", format))
		return
	}

	filter, _, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.Limit = exportLimit
	filter.Offset = 0

	entries, _, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.GetLogger(r).WithError(err).Error("audit export failed")
		httputil.WriteInternalError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=audit-%s.%s", time.Now().Format("2006-01-02"), format))

	if err := Export(w, format, entries); err != nil {
		httputil.GetLogger(r).WithError(err).Error("audit export write failed")
	}
}
