package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestManager_Counters(t *testing.T) {
	m := NewManager()

	m.FetchError("meetup", "expats")
	m.FetchError("meetup", "expats")
	m.Served("podcast", "mollat2", 12)
	m.EnrichResults("expats", 3, 1, 2)
	m.CacheLookup("mollat2", "fresh")
	m.ObserveRun("podcast", "mollat2", 250*time.Millisecond)
	m.HTTPRequest("/api/meetup-expats", 500)

	if got := testutil.ToFloat64(m.fetchErrors.WithLabelValues("meetup", "expats")); got != 2 {
		t.Errorf("fetch errors: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("podcast", "mollat2")); got != 12 {
		t.Errorf("served: got %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.enrichOutcomes.WithLabelValues("expats", "failed")); got != 1 {
		t.Errorf("enrich failed: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/meetup-expats", "5xx")); got != 1 {
		t.Errorf("http 5xx: got %v, want 1", got)
	}
}

func TestManager_Handler(t *testing.T) {
	m := NewManager(WithNamespace("fts_test"))
	m.CacheLookup("terranova", "stale")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `fts_test_podcast_cache_lookups_total{result="stale",source="terranova"} 1`) {
		t.Errorf("exposition missing cache lookup:\n%s", body)
	}
}

func TestManager_NilSafe(t *testing.T) {
	var m *Manager
	m.FetchError("meetup", "x")
	m.Served("meetup", "x", 1)
	m.EnrichResults("x", 1, 1, 1)
	m.CacheLookup("x", "miss")
	m.ObserveRun("meetup", "x", time.Second)
	m.HTTPRequest("/", 200)
	if m.Registry() != nil {
		t.Error("nil manager should have no registry")
	}
}
