package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/parser"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

// Runner drives a single Job from pending to a terminal state. A Runner is
// single-use.
type Runner struct {
	cfg       config.CrawlConfig
	fetcher   Fetcher
	extractor *parser.Extractor
	expander  *Expander
	sink      Sink
	observer  Observer
	logger    *slog.Logger

	used       atomic.Bool
	cancelled  atomic.Bool
	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSink sets where completed jobs are persisted. Without a sink a job
// completes with no result file.
func WithSink(s Sink) RunnerOption {
	return func(r *Runner) { r.sink = s }
}

// WithExpander replaces the default link expander.
func WithExpander(x *Expander) RunnerOption {
	return func(r *Runner) { r.expander = x }
}

// WithObserver registers a receiver for job events.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// NewRunner creates a Runner.
func NewRunner(cfg config.CrawlConfig, f Fetcher, extractor *parser.Extractor, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:       cfg,
		fetcher:   f,
		extractor: extractor,
		logger:    logger.With("component", "runner"),
		cancelCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.expander == nil {
		r.expander = NewExpander(cfg, nil)
	}
	return r
}

// Cancel asks the running job to stop. It takes effect at the next link
// boundary; an in-flight fetch completes first. Safe to call at any time and
// more than once.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// Cancelled reports whether Cancel was called.
func (r *Runner) Cancelled() bool {
	return r.cancelled.Load()
}

// Run executes job and returns once it is terminal. Crawl failures are
// reported through the job's status and logs, not the returned error, which
// is only non-nil when the runner or the job has already been used.
func (r *Runner) Run(ctx context.Context, job *Job) error {
	if !r.used.CompareAndSwap(false, true) {
		return types.ErrNotReentrant
	}
	if !job.start() {
		return fmt.Errorf("job %s is %s: %w", job.ID(), job.Status(), types.ErrNotReentrant)
	}
	if r.observer != nil {
		r.observer.JobStarted()
	}

	job.logf(slog.LevelInfo, "crawl started: %s", job.SeedURL())
	status, resultFile, errMsg := r.crawl(ctx, job)
	job.finish(status, resultFile, errMsg)

	if r.observer != nil {
		r.observer.JobFinished(string(status))
	}
	r.logger.Info("job finished",
		"job_id", job.ID(),
		"status", status,
		"collected", job.Summary().Collected,
	)
	return nil
}

func (r *Runner) crawl(ctx context.Context, job *Job) (Status, string, string) {
	if r.stopRequested(ctx) {
		job.logf(slog.LevelWarn, "crawl cancelled before the seed fetch")
		return StatusCancelled, "", ""
	}

	selectors := job.Selectors()

	seedReq, err := types.NewRequest(job.SeedURL())
	if err != nil {
		msg := fmt.Sprintf("invalid seed URL: %v", err)
		job.logf(slog.LevelError, "%s", msg)
		return StatusFailed, "", msg
	}
	resp, err := r.fetcher.Fetch(ctx, seedReq)
	if err != nil {
		if ctx.Err() != nil {
			job.logf(slog.LevelWarn, "crawl cancelled during the seed fetch")
			return StatusCancelled, "", ""
		}
		msg := fmt.Sprintf("seed fetch failed: %v", err)
		job.logf(slog.LevelError, "%s", msg)
		return StatusFailed, "", msg
	}

	doc, err := resp.Document()
	if err != nil {
		msg := fmt.Sprintf("parse seed page: %v", err)
		job.logf(slog.LevelError, "%s", msg)
		return StatusFailed, "", msg
	}
	r.addRecord(job, r.extractor.ExtractResponse(resp, selectors))
	job.logf(slog.LevelInfo, "seed page extracted")

	links, err := r.expander.ExpandDocument(ctx, doc, resp.FinalURL, r.cfg.PageBudget, job.SeedURL())
	if err != nil {
		job.logf(slog.LevelWarn, "link expansion failed: %v", err)
		links = nil
	}
	planned := len(links) + 1
	job.setPlanned(planned)
	job.logf(slog.LevelInfo, "found %d links to follow", len(links))

	for i, link := range links {
		if r.stopRequested(ctx) {
			job.logf(slog.LevelWarn, "crawl cancelled after %d of %d pages", i+1, planned)
			return StatusCancelled, "", ""
		}
		job.setProgress((i + 1) * 100 / planned)

		r.crawlLink(ctx, job, selectors, link, i+2, planned)

		if i < len(links)-1 {
			r.sleep(ctx)
		}
	}

	if r.stopRequested(ctx) {
		job.logf(slog.LevelWarn, "crawl cancelled before results were saved")
		return StatusCancelled, "", ""
	}

	var resultFile string
	if r.sink != nil {
		resultFile, err = r.sink.Save(ctx, job.Name(), job.Records())
		if err != nil {
			msg := fmt.Sprintf("saving results failed: %v", err)
			job.logf(slog.LevelError, "%s", msg)
			return StatusFailed, "", msg
		}
		job.logf(slog.LevelInfo, "results saved: %s", resultFile)
	}

	sum := job.Summary()
	job.logf(slog.LevelInfo, "crawl completed: %d records, %d failed pages", sum.Collected, sum.ErrorCount)
	return StatusCompleted, resultFile, ""
}

// crawlLink fetches and extracts one followed link. Failures are logged and
// counted, never returned.
func (r *Runner) crawlLink(ctx context.Context, job *Job, selectors types.SelectorMap, link string, n, planned int) {
	req, err := types.NewRequest(link)
	if err != nil {
		job.addError()
		job.logf(slog.LevelWarn, "skipping %s: %v", link, err)
		return
	}
	req.ParentURL = job.SeedURL()

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		job.addError()
		job.logf(slog.LevelWarn, "page %d/%d failed (%s): %v", n, planned, types.FetchErrorKindOf(err), err)
		return
	}

	r.addRecord(job, r.extractor.ExtractResponse(resp, selectors))
	job.logf(slog.LevelInfo, "page %d/%d extracted: %s", n, planned, link)
}

func (r *Runner) addRecord(job *Job, rec *types.Record) {
	job.addRecord(rec)
	if r.observer != nil {
		r.observer.RecordsExtracted(1)
	}
}

// sleep waits the configured inter-request delay, returning early on
// cancellation.
func (r *Runner) sleep(ctx context.Context) {
	if r.cfg.Delay <= 0 {
		return
	}
	t := time.NewTimer(r.cfg.Delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-r.cancelCh:
	}
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}
