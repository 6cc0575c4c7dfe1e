// Package api exposes the job registry over HTTP with JSON bodies.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/engine"
	"github.com/IshaanNene/crawlmaster/internal/observability"
	"github.com/IshaanNene/crawlmaster/internal/parser"
	"github.com/IshaanNene/crawlmaster/internal/registry"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

const maxBodyBytes = 1 << 20

// Server provides the REST API for submitting and polling crawl jobs.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	fetcher  engine.Fetcher
	metrics  *observability.Metrics
	mux      *http.ServeMux
	http     *http.Server
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m at the configured metrics path and in /api/stats.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates an API server. f is used to fetch pages for selector
// auto-detection.
func NewServer(cfg *config.Config, reg *registry.Registry, f engine.Fetcher, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		fetcher:  f,
		mux:      http.NewServeMux(),
		logger:   logger.With("component", "api_server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("API server starting", "addr", s.cfg.Server.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)

	s.mux.HandleFunc("POST /api/quick-crawl", s.handleQuickCrawl)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /downloads/{file}", s.handleDownload)

	if s.metrics != nil && s.cfg.Metrics.Enabled {
		s.mux.Handle("GET "+s.cfg.Metrics.Path, s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      config.Version,
		"running_jobs": s.registry.Running(),
	})
}

// jobRequest is the body of POST /api/jobs. Selectors may be the
// "field: selector" text format or a JSON object.
type jobRequest struct {
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Selectors types.SelectorMap `json:"selectors"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := s.decode(r, &req, func(form map[string][]string) {
		req.Name = first(form["name"])
		req.URL = first(form["url"])
		req.Selectors = types.ParseSelectorText(first(form["selectors"]))
	}); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.registry.Submit(strings.TrimSpace(req.Name), strings.TrimSpace(req.URL), req.Selectors)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, job.Summary())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.registry.List()
	out := make([]engine.Snapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Summary()
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Cancel(id); err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "cancelling", "id": id})
}

func (s *Server) handleQuickCrawl(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := s.decode(r, &body, func(form map[string][]string) {
		body.URL = first(form["url"])
	}); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	seed, err := types.NewRequest(strings.TrimSpace(body.URL))
	if err != nil {
		s.handleError(w, &types.ConfigError{Field: "url", Reason: "seed URL must be an absolute http(s) URL", Err: err})
		return
	}

	resp, err := s.fetcher.Fetch(r.Context(), seed)
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, fmt.Sprintf("fetch page: %v", err))
		return
	}
	selectors, err := parser.DetectSelectors(resp.Body)
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, fmt.Sprintf("parse page: %v", err))
		return
	}
	if selectors.Len() == 0 {
		s.errorResponse(w, http.StatusUnprocessableEntity, "no selectors detected")
		return
	}

	job, err := s.registry.Submit("auto_"+seed.Domain(), seed.URLString(), selectors)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, map[string]any{
		"job":       job.Summary(),
		"selectors": selectors,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"jobs": s.registry.Stats()}
	if s.metrics != nil {
		out["metrics"] = s.metrics.Snapshot()
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		s.errorResponse(w, http.StatusBadRequest, "invalid file name")
		return
	}

	path := filepath.Join(s.cfg.Storage.OutputDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.errorResponse(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeFile(w, r, path)
}

// decode reads a JSON body, or a form body through fromForm.
func (s *Server) decode(r *http.Request, v any, fromForm func(map[string][]string)) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return fmt.Errorf("invalid form: %w", err)
		}
		fromForm(r.Form)
		return nil
	default:
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		return nil
	}
}

// handleError maps domain errors onto status codes.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	var ce *types.ConfigError
	switch {
	case errors.As(err, &ce):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrJobNotFound):
		s.errorResponse(w, http.StatusNotFound, "job not found")
	case errors.Is(err, types.ErrTooManyJobs):
		s.errorResponse(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, types.ErrJobNotRunning):
		s.errorResponse(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, msg string) {
	s.jsonResponse(w, status, map[string]string{"error": msg})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}
