// Package registry owns crawl jobs for the lifetime of the process: it
// assigns ids, starts each job on its own goroutine and serves concurrent
// readers while runners write.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/engine"
	"github.com/IshaanNene/crawlmaster/internal/parser"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

type entry struct {
	job    *engine.Job
	runner *engine.Runner
}

// Registry is the job table. It is safe for concurrent use.
type Registry struct {
	cfg       *config.Config
	fetcher   engine.Fetcher
	extractor *parser.Extractor
	expander  *engine.Expander
	sink      engine.Sink
	observer  engine.Observer
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]*entry
	running int
}

// Option configures a Registry.
type Option func(*Registry)

// WithSink sets where completed jobs are saved.
func WithSink(s engine.Sink) Option {
	return func(r *Registry) { r.sink = s }
}

// WithObserver registers a receiver for job events.
func WithObserver(o engine.Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithExpander sets the link expander shared by all jobs.
func WithExpander(x *engine.Expander) Option {
	return func(r *Registry) { r.expander = x }
}

// New creates a registry whose jobs fetch through f.
func New(cfg *config.Config, f engine.Fetcher, logger *slog.Logger, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:       cfg,
		fetcher:   f,
		extractor: parser.NewExtractor(cfg.Crawl.MaxValuesPerField, logger),
		logger:    logger.With("component", "registry"),
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.expander == nil {
		r.expander = engine.NewExpander(cfg.Crawl, nil)
	}
	return r
}

// Create validates and registers a pending job without starting it. It
// returns a *types.ConfigError for a malformed seed URL or selector map.
func (r *Registry) Create(name, seedURL string, selectors types.SelectorMap) (*engine.Job, error) {
	job, err := engine.NewJob(uuid.NewString(), name, seedURL, selectors, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.jobs[job.ID()] = &entry{job: job}
	r.mu.Unlock()

	r.logger.Info("job created", "job_id", job.ID(), "name", job.Name(), "url", seedURL)
	return job, nil
}

// Start runs a pending job in the background. It returns
// types.ErrTooManyJobs when server.max_concurrent_jobs jobs are running.
func (r *Registry) Start(id string) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	if e.runner != nil || e.job.Status() != engine.StatusPending {
		r.mu.Unlock()
		return fmt.Errorf("job %s: %w", id, types.ErrNotReentrant)
	}
	if r.running >= r.cfg.Server.MaxConcurrentJobs {
		r.mu.Unlock()
		return types.ErrTooManyJobs
	}
	e.runner = r.newRunner()
	r.running++
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(e)
	return nil
}

// Submit creates a job and starts it. When the concurrent-job limit is
// reached nothing is registered.
func (r *Registry) Submit(name, seedURL string, selectors types.SelectorMap) (*engine.Job, error) {
	r.mu.RLock()
	full := r.running >= r.cfg.Server.MaxConcurrentJobs
	r.mu.RUnlock()
	if full {
		return nil, types.ErrTooManyJobs
	}

	job, err := r.Create(name, seedURL, selectors)
	if err != nil {
		return nil, err
	}
	if err := r.Start(job.ID()); err != nil {
		r.remove(job.ID())
		return nil, err
	}
	return job, nil
}

func (r *Registry) newRunner() *engine.Runner {
	opts := []engine.RunnerOption{engine.WithExpander(r.expander)}
	if r.sink != nil {
		opts = append(opts, engine.WithSink(r.sink))
	}
	if r.observer != nil {
		opts = append(opts, engine.WithObserver(r.observer))
	}
	return engine.NewRunner(r.cfg.Crawl, r.fetcher, r.extractor, r.logger, opts...)
}

func (r *Registry) run(e *entry) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
	}()

	if err := e.runner.Run(r.ctx, e.job); err != nil {
		r.logger.Error("job did not run", "job_id", e.job.ID(), "error", err)
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Get returns a job by id.
func (r *Registry) Get(id string) (*engine.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	return e.job, nil
}

// List returns all jobs, newest first.
func (r *Registry) List() []*engine.Job {
	r.mu.RLock()
	jobs := make([]*engine.Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		jobs = append(jobs, e.job)
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt().Equal(jobs[j].CreatedAt()) {
			return jobs[i].ID() < jobs[j].ID()
		}
		return jobs[i].CreatedAt().After(jobs[j].CreatedAt())
	})
	return jobs
}

// Cancel asks a running job to stop at its next link boundary. It returns
// types.ErrJobNotRunning for jobs that were never started or are terminal.
func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	e, ok := r.jobs[id]
	var runner *engine.Runner
	if ok {
		runner = e.runner
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	if runner == nil || e.job.Status().IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", id, e.job.Status(), types.ErrJobNotRunning)
	}
	runner.Cancel()
	r.logger.Info("job cancel requested", "job_id", id)
	return nil
}

// Running returns the number of jobs currently executing.
func (r *Registry) Running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Stats summarizes all jobs.
type Stats struct {
	TotalJobs         int                   `json:"total_jobs"`
	ByStatus          map[engine.Status]int `json:"by_status"`
	RunningJobs       int                   `json:"running_jobs"`
	MaxConcurrentJobs int                   `json:"max_concurrent_jobs"`
	TotalCollected    int                   `json:"total_collected"`
	TotalErrors       int                   `json:"total_errors"`
}

// Stats returns totals over every registered job.
func (r *Registry) Stats() Stats {
	s := Stats{
		ByStatus:          make(map[engine.Status]int),
		MaxConcurrentJobs: r.cfg.Server.MaxConcurrentJobs,
	}
	for _, job := range r.List() {
		sum := job.Summary()
		s.TotalJobs++
		s.ByStatus[sum.Status]++
		s.TotalCollected += sum.Collected
		s.TotalErrors += sum.ErrorCount
	}
	s.RunningJobs = r.Running()
	return s
}

// Wait blocks until every started job is terminal.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Shutdown cancels all running jobs and waits for them, or for ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	for _, e := range r.jobs {
		if e.runner != nil {
			e.runner.Cancel()
		}
	}
	r.mu.RUnlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
