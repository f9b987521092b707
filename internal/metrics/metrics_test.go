package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestManagerCounters(t *testing.T) {
	m := NewManager(WithNamespace("test"))

	m.ObserveFetch("openmeteo", StatusOK, 150*time.Millisecond)
	m.ObserveFetch("openmeteo", StatusError, time.Second)
	m.AddSaved("openmeteo", 24)
	m.AddSaved("openmeteo", 0)
	m.AddSkipped("openmeteo", 3)
	m.IncBulkFallback("1")
	m.AddPruned(5)

	if got := testutil.ToFloat64(m.fetchCycles.WithLabelValues("openmeteo", StatusOK)); got != 1 {
		t.Errorf("ok cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pointsSaved.WithLabelValues("openmeteo")); got != 24 {
		t.Errorf("saved = %v, want 24", got)
	}
	if got := testutil.ToFloat64(m.pointsSkipped.WithLabelValues("openmeteo")); got != 3 {
		t.Errorf("skipped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.pointsPruned); got != 5 {
		t.Errorf("pruned = %v, want 5", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := NewManager(WithNamespace("test"))
	m.AddSaved("coincap", 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_points_saved_total{source="coincap"} 5`) {
		t.Errorf("exposition missing saved counter:\n%s", rec.Body.String())
	}
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	m.ObserveFetch("x", StatusOK, time.Second)
	m.AddSaved("x", 1)
	m.AddSkipped("x", 1)
	m.IncBulkFallback("1")
	m.AddPruned(1)
	if m.Registry() != nil {
		t.Error("nil manager should have no registry")
	}
}
