package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if metrics.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
	if metrics.AuthAttemptsTotal == nil {
		t.Error("AuthAttemptsTotal is nil")
	}
	if metrics.PermissionChecksTotal == nil {
		t.Error("PermissionChecksTotal is nil")
	}
	if metrics.RoleMutationsTotal == nil {
		t.Error("RoleMutationsTotal is nil")
	}
	if metrics.RateLimitRejectsTotal == nil {
		t.Error("RateLimitRejectsTotal is nil")
	}
}

func TestNewMetrics_DoubleRegisterPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(registry)
}

func TestMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.AuthAttemptsTotal.WithLabelValues("login", "success").Inc()
	metrics.AuthAttemptsTotal.WithLabelValues("login", "success").Inc()
	metrics.RoleMutationsTotal.WithLabelValues("assign", "success").Inc()
	metrics.AssignmentsExpired.Add(3)

	if got := testutil.ToFloat64(metrics.AuthAttemptsTotal.WithLabelValues("login", "success")); got != 2 {
		t.Errorf("expected 2 login successes, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RoleMutationsTotal.WithLabelValues("assign", "success")); got != 1 {
		t.Errorf("expected 1 assign mutation, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.AssignmentsExpired); got != 3 {
		t.Errorf("expected 3 expired assignments, got %v", got)
	}
}

func TestMetrics_PollDBPool(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		metrics.PollDBPool(ctx, db, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PollDBPool did not stop on context cancellation")
	}

	if got := testutil.ToFloat64(metrics.DBConnectionsIdle); got != float64(db.Stats().Idle) {
		t.Errorf("expected idle gauge %v, got %v", db.Stats().Idle, got)
	}
	if got := testutil.ToFloat64(metrics.DBConnectionsActive); got != float64(db.Stats().InUse) {
		t.Errorf("expected active gauge %v, got %v", db.Stats().InUse, got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(metrics, func(*http.Request) string {
		return "/api/roles/user/{id}"
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/roles/user/42", nil))

	got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/roles/user/{id}", "404"))
	if got != 1 {
		t.Errorf("expected 1 request counted under the route template, got %v", got)
	}
}

func TestHTTPMetricsMiddleware_NilRoutePath(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(metrics, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200"))
	if got != 1 {
		t.Errorf("expected raw path label when no template resolver, got %v", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.TokensIssuedTotal.Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rosterd_tokens_issued_total 1") {
		t.Error("expected rosterd_tokens_issued_total in exposition output")
	}
}
