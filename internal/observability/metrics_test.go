package observability

import (
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/IshaanNene/crawlmaster/internal/engine"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestObserveFetch(t *testing.T) {
	m := NewMetrics(testLogger)

	m.ObserveFetch(200, 1024, nil)
	m.ObserveFetch(0, 0, &types.FetchError{Kind: types.FetchTimeout})
	m.ObserveFetch(404, 0, &types.FetchError{Kind: types.FetchHTTPError, StatusCode: 404})
	m.ObserveFetch(0, 0, errors.New("plain"))

	if got := m.PagesFetched.Load(); got != 1 {
		t.Errorf("pages fetched = %d", got)
	}
	if got := m.PagesFailed.Load(); got != 3 {
		t.Errorf("pages failed = %d", got)
	}
	if m.FetchTimeouts.Load() != 1 || m.FetchHTTPErrors.Load() != 1 || m.FetchOtherErrors.Load() != 1 {
		t.Errorf("per-kind counters = %v", m.Snapshot())
	}
	if got := m.BytesDownloaded.Load(); got != 1024 {
		t.Errorf("bytes = %d", got)
	}
}

func TestJobCounters(t *testing.T) {
	m := NewMetrics(testLogger)
	m.JobStarted()
	m.JobStarted()
	m.JobFinished("completed")
	m.RecordsExtracted(3)

	snap := m.Snapshot()
	if snap["jobs_started"] != 2 || snap["jobs_running"] != 1 || snap["jobs_completed"] != 1 {
		t.Errorf("snapshot = %v", snap)
	}
	if snap["records_extracted"] != 3 {
		t.Errorf("records = %d", snap["records_extracted"])
	}
	if got := m.RecordsTotal.Load(); got != 3 {
		t.Errorf("RecordsTotal = %d", got)
	}
}

func TestMetricsIsJobObserver(t *testing.T) {
	var o engine.Observer = NewMetrics(testLogger)
	o.RecordsExtracted(2)
	o.RecordsExtracted(1)
	if got := o.(*Metrics).Snapshot()["records_extracted"]; got != 3 {
		t.Errorf("records_extracted = %d", got)
	}
}

func TestServeHTTP(t *testing.T) {
	m := NewMetrics(testLogger)
	m.JobStarted()

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE crawlmaster_jobs_running gauge",
		"crawlmaster_jobs_running 1",
		"# TYPE crawlmaster_pages_fetched_total counter",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %s", ct)
	}
}
