// Package observability holds process-wide crawl counters and serves them in
// the Prometheus text exposition format.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

// Metrics tracks operational metrics for the crawler. It implements both the
// fetcher and the job runner observer interfaces.
type Metrics struct {
	// Fetch metrics
	PagesFetched          atomic.Int64
	PagesFailed           atomic.Int64
	FetchTimeouts         atomic.Int64
	FetchConnectionFailed atomic.Int64
	FetchHTTPErrors       atomic.Int64
	FetchOtherErrors      atomic.Int64
	BytesDownloaded       atomic.Int64

	// Record metrics
	RecordsTotal atomic.Int64

	// Job metrics
	JobsStarted   atomic.Int64
	JobsRunning   atomic.Int64
	JobsCompleted atomic.Int64
	JobsFailed    atomic.Int64
	JobsCancelled atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ObserveFetch records one fetch attempt.
func (m *Metrics) ObserveFetch(_ int, bytes int, err error) {
	if err == nil {
		m.PagesFetched.Add(1)
		m.BytesDownloaded.Add(int64(bytes))
		return
	}
	m.PagesFailed.Add(1)
	switch types.FetchErrorKindOf(err) {
	case types.FetchTimeout:
		m.FetchTimeouts.Add(1)
	case types.FetchConnectionFailed:
		m.FetchConnectionFailed.Add(1)
	case types.FetchHTTPError:
		m.FetchHTTPErrors.Add(1)
	default:
		m.FetchOtherErrors.Add(1)
	}
}

// JobStarted records a job entering the running state.
func (m *Metrics) JobStarted() {
	m.JobsStarted.Add(1)
	m.JobsRunning.Add(1)
}

// JobFinished records a job reaching a terminal state.
func (m *Metrics) JobFinished(status string) {
	m.JobsRunning.Add(-1)
	switch status {
	case "completed":
		m.JobsCompleted.Add(1)
	case "failed":
		m.JobsFailed.Add(1)
	case "cancelled":
		m.JobsCancelled.Add(1)
	default:
		m.logger.Warn("unknown job status", "status", status)
	}
}

// RecordsExtracted counts extracted records.
func (m *Metrics) RecordsExtracted(n int) {
	m.RecordsTotal.Add(int64(n))
}

type metric struct {
	name  string
	help  string
	kind  string
	value int64
}

func (m *Metrics) collect() []metric {
	return []metric{
		{"crawlmaster_pages_fetched_total", "Pages fetched with HTTP 200", "counter", m.PagesFetched.Load()},
		{"crawlmaster_pages_failed_total", "Page fetches that failed", "counter", m.PagesFailed.Load()},
		{"crawlmaster_fetch_timeouts_total", "Fetches that timed out", "counter", m.FetchTimeouts.Load()},
		{"crawlmaster_fetch_connection_failed_total", "Fetches that could not connect", "counter", m.FetchConnectionFailed.Load()},
		{"crawlmaster_fetch_http_errors_total", "Fetches answered with a non-200 status", "counter", m.FetchHTTPErrors.Load()},
		{"crawlmaster_fetch_other_errors_total", "Fetches that failed for other reasons", "counter", m.FetchOtherErrors.Load()},
		{"crawlmaster_bytes_downloaded_total", "Decoded body bytes downloaded", "counter", m.BytesDownloaded.Load()},
		{"crawlmaster_records_extracted_total", "Records extracted", "counter", m.RecordsTotal.Load()},
		{"crawlmaster_jobs_started_total", "Jobs started", "counter", m.JobsStarted.Load()},
		{"crawlmaster_jobs_running", "Jobs currently running", "gauge", m.JobsRunning.Load()},
		{"crawlmaster_jobs_completed_total", "Jobs completed", "counter", m.JobsCompleted.Load()},
		{"crawlmaster_jobs_failed_total", "Jobs failed", "counter", m.JobsFailed.Load()},
		{"crawlmaster_jobs_cancelled_total", "Jobs cancelled", "counter", m.JobsCancelled.Load()},
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	for _, metric := range m.collect() {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", metric.name, metric.kind)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"pages_fetched":     m.PagesFetched.Load(),
		"pages_failed":      m.PagesFailed.Load(),
		"bytes_downloaded":  m.BytesDownloaded.Load(),
		"records_extracted": m.RecordsTotal.Load(),
		"jobs_started":      m.JobsStarted.Load(),
		"jobs_running":      m.JobsRunning.Load(),
		"jobs_completed":    m.JobsCompleted.Load(),
		"jobs_failed":       m.JobsFailed.Load(),
		"jobs_cancelled":    m.JobsCancelled.Load(),
	}
}
