package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/engine"
	"github.com/IshaanNene/crawlmaster/internal/fetcher"
	"github.com/IshaanNene/crawlmaster/internal/observability"
	"github.com/IshaanNene/crawlmaster/internal/registry"
	"github.com/IshaanNene/crawlmaster/internal/storage"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const sitePage = `<html><head><title>Shop</title></head><body>
<h1>Front</h1><div class="content">Welcome</div>
<a href="/item/1">1</a><a href="/item/2">2</a></body></html>`

func newSite() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, sitePage)
		case "/item/1", "/item/2":
			fmt.Fprintf(w, `<html><h1>Item %s</h1></html>`, strings.TrimPrefix(r.URL.Path, "/item/"))
		case "/blank":
			fmt.Fprint(w, `<html><body></body></html>`)
		default:
			http.NotFound(w, r)
		}
	})
	return httptest.NewServer(mux)
}

type testEnv struct {
	api      *httptest.Server
	cfg      *config.Config
	registry *registry.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Crawl.Delay = 0
	cfg.Storage.OutputDir = t.TempDir()
	cfg.Storage.Types = []string{"json"}
	cfg.Metrics.Enabled = true

	f, err := fetcher.NewHTTPFetcher(cfg, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	sink, err := storage.New(context.Background(), cfg.Storage, testLogger)
	require.NoError(t, err)

	m := observability.NewMetrics(testLogger)
	f.SetObserver(m)
	reg := registry.New(cfg, f, testLogger, registry.WithSink(sink), registry.WithObserver(m))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})

	srv := NewServer(cfg, reg, f, testLogger, WithMetrics(m))
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)
	return &testEnv{api: api, cfg: cfg, registry: reg}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.api.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, config.Version, out["version"])
}

func TestCreateJobAndDownload(t *testing.T) {
	site := newSite()
	defer site.Close()
	env := newTestEnv(t)

	payload := fmt.Sprintf(`{"name":"shop","url":%q,"selectors":{"title":"h1","intro":".content"}}`, site.URL+"/")
	resp, body := env.do(t, http.MethodPost, "/api/jobs", "application/json", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created engine.Snapshot
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "shop", created.Name)
	assert.Equal(t, []string{"title", "intro"}, created.Selectors.Names())
	assert.Empty(t, created.Data)

	env.registry.Wait()

	resp, body = env.do(t, http.MethodGet, "/api/jobs/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Equal(t, engine.StatusCompleted, snap.Status, "logs: %v", snap.Logs)
	require.Len(t, snap.Data, 3)
	assert.Equal(t, "Front", snap.Data[0].GetString("title"))
	assert.Equal(t, "Welcome", snap.Data[0].GetString("intro"))
	require.NotEmpty(t, snap.ResultFile)

	resp, body = env.do(t, http.MethodGet, "/downloads/"+url.PathEscape(snap.ResultFile), "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(body, &rows))
	assert.Len(t, rows, 3)
}

func TestCreateJobFromForm(t *testing.T) {
	site := newSite()
	defer site.Close()
	env := newTestEnv(t)

	form := url.Values{
		"name":      {"form job"},
		"url":       {site.URL + "/"},
		"selectors": {"title: h1\nno colon line\nintro: .content"},
	}
	resp, body := env.do(t, http.MethodPost, "/api/jobs", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created engine.Snapshot
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, []string{"title", "intro"}, created.Selectors.Names())
	env.registry.Wait()
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"empty selectors", `{"url":"https://example.com/","selectors":{}}`, http.StatusBadRequest},
		{"bad url", `{"url":"not a url","selectors":"title: h1"}`, http.StatusBadRequest},
		{"reserved field", `{"url":"https://example.com/","selectors":"url: a"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/jobs", "application/json", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			var out map[string]string
			require.NoError(t, json.Unmarshal(body, &out))
			assert.NotEmpty(t, out["error"])
		})
	}

	resp, body := env.do(t, http.MethodGet, "/api/jobs", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/api/jobs/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/jobs/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/jobs/nope/cancel", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	site := newSite()
	defer site.Close()
	env := newTestEnv(t)

	job, err := env.registry.Submit("done", site.URL+"/", types.ParseSelectorText("title: h1"))
	require.NoError(t, err)
	env.registry.Wait()

	resp, _ := env.do(t, http.MethodDelete, "/api/jobs/"+job.ID(), "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestQuickCrawl(t *testing.T) {
	site := newSite()
	defer site.Close()
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/quick-crawl", "application/json",
		fmt.Sprintf(`{"url":%q}`, site.URL+"/"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out struct {
		Job       engine.Snapshot   `json:"job"`
		Selectors map[string]string `json:"selectors"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "h1", out.Selectors["title"])
	assert.True(t, strings.HasPrefix(out.Job.Name, "auto_"))
	env.registry.Wait()
}

func TestQuickCrawlErrors(t *testing.T) {
	site := newSite()
	defer site.Close()
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/quick-crawl", "application/json", `{"url":"ftp://x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/quick-crawl", "application/json",
		fmt.Sprintf(`{"url":%q}`, site.URL+"/missing"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/quick-crawl", "application/json",
		fmt.Sprintf(`{"url":%q}`, site.URL+"/blank"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), "no selectors detected")
}

func TestDownloadRejectsTraversal(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.Storage.OutputDir, "ok.csv"), []byte("a\n"), 0o644))

	resp, _ := env.do(t, http.MethodGet, "/downloads/..%5Csecret", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/downloads/.hidden", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/downloads/missing.csv", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, body := env.do(t, http.MethodGet, "/downloads/ok.csv", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a\n", string(body))
}

func TestStatsAndMetrics(t *testing.T) {
	site := newSite()
	defer site.Close()
	env := newTestEnv(t)

	_, err := env.registry.Submit("s", site.URL+"/", types.ParseSelectorText("title: h1"))
	require.NoError(t, err)
	env.registry.Wait()

	resp, body := env.do(t, http.MethodGet, "/api/stats", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats struct {
		Jobs    registry.Stats   `json:"jobs"`
		Metrics map[string]int64 `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Jobs.TotalJobs)
	assert.Equal(t, 3, stats.Jobs.TotalCollected)
	assert.Equal(t, int64(3), stats.Metrics["pages_fetched"])

	resp, body = env.do(t, http.MethodGet, env.cfg.Metrics.Path, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "crawlmaster_jobs_completed_total 1")
}
