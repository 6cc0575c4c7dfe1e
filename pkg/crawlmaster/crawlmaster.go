// Package crawlmaster provides a public SDK for running selector-driven
// crawls in-process.
//
// Example usage:
//
//	c, err := crawlmaster.NewCrawler(
//	    crawlmaster.WithPageBudget(10),
//	    crawlmaster.WithDelay(time.Second),
//	    crawlmaster.WithOutput("./output", "json"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	res, err := c.Crawl(ctx, "news", "https://example.com/",
//	    crawlmaster.Selectors("title: h1\nbody: article p"))
package crawlmaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/engine"
	"github.com/IshaanNene/crawlmaster/internal/fetcher"
	"github.com/IshaanNene/crawlmaster/internal/parser"
	"github.com/IshaanNene/crawlmaster/internal/storage"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

type (
	// Record is one extracted row: url, crawled_at and one value per field.
	Record = types.Record
	// Value is a field value, either a single string or a list of strings.
	Value = types.Value
	// SelectorMap is an ordered mapping from field name to CSS or XPath selector.
	SelectorMap = types.SelectorMap
	// Result is the final state of a crawl, including its records.
	Result = engine.Snapshot
	// Status is a crawl's lifecycle state.
	Status = engine.Status
)

// Crawl states.
const (
	StatusCompleted = engine.StatusCompleted
	StatusFailed    = engine.StatusFailed
	StatusCancelled = engine.StatusCancelled
)

// ErrCrawlFailed is returned by Crawl when the job ended in the failed state.
var ErrCrawlFailed = errors.New("crawl failed")

// Selectors parses "field: selector" lines into a SelectorMap.
func Selectors(text string) SelectorMap {
	return types.ParseSelectorText(text)
}

// Option configures a Crawler.
type Option func(*config.Config)

// WithPageBudget sets the maximum number of links followed from the seed.
func WithPageBudget(n int) Option {
	return func(c *config.Config) { c.Crawl.PageBudget = n }
}

// WithDelay sets the pause between page fetches.
func WithDelay(d time.Duration) Option {
	return func(c *config.Config) { c.Crawl.Delay = d }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config.Config) { c.Fetcher.RequestTimeout = d }
}

// WithUserAgent sets a custom User-Agent.
func WithUserAgent(ua string) Option {
	return func(c *config.Config) { c.Fetcher.UserAgent = ua }
}

// WithRetries retries timeouts, connection failures, 429 and 5xx responses
// up to n times.
func WithRetries(n int) Option {
	return func(c *config.Config) { c.Fetcher.MaxRetries = n }
}

// WithMaxValues caps the values kept per field.
func WithMaxValues(n int) Option {
	return func(c *config.Config) { c.Crawl.MaxValuesPerField = n }
}

// WithDetailHeuristic toggles preferring links that look like detail pages.
func WithDetailHeuristic(on bool) Option {
	return func(c *config.Config) { c.Crawl.DetailHeuristic = on }
}

// WithSubdomains follows links to any host under the seed's registered domain.
func WithSubdomains() Option {
	return func(c *config.Config) { c.Crawl.IncludeSubdomains = true }
}

// WithRobotsRespect enables/disables robots.txt compliance.
func WithRobotsRespect(respect bool) Option {
	return func(c *config.Config) { c.Crawl.RespectRobotsTxt = respect }
}

// WithOutput writes each crawl's records to dir in the given formats
// (json, jsonl, csv, xlsx, sqlite, mongodb). Without it, records are only
// returned in memory.
func WithOutput(dir string, formats ...string) Option {
	return func(c *config.Config) {
		c.Storage.OutputDir = dir
		c.Storage.Types = formats
	}
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *config.Config) { c.Logging.Level = "debug" }
}

// Crawler runs crawl jobs against a shared fetcher. It is safe for
// concurrent use.
type Crawler struct {
	cfg       *config.Config
	logger    *slog.Logger
	fetcher   *fetcher.HTTPFetcher
	extractor *parser.Extractor
	expander  *engine.Expander
	sink      storage.Storage
}

// NewCrawler creates a Crawler with the given options.
func NewCrawler(opts ...Option) (*Crawler, error) {
	cfg := config.DefaultConfig()
	cfg.Storage.Types = nil
	for _, opt := range opts {
		opt(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	f, err := fetcher.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	var robots *engine.RobotsFilter
	if cfg.Crawl.RespectRobotsTxt {
		robots = engine.NewRobotsFilter(f, cfg.Fetcher.UserAgent, logger)
	}

	c := &Crawler{
		cfg:       cfg,
		logger:    logger,
		fetcher:   f,
		extractor: parser.NewExtractor(cfg.Crawl.MaxValuesPerField, logger),
		expander:  engine.NewExpander(cfg.Crawl, robots),
	}

	if len(cfg.Storage.Types) > 0 {
		c.sink, err = storage.New(context.Background(), cfg.Storage, logger)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create storage: %w", err)
		}
	}
	return c, nil
}

// Crawl fetches seedURL, follows up to the page budget of its same-site
// links and extracts one record per page. Cancelling ctx stops the crawl
// and returns a cancelled result. A failed crawl returns its result along
// with an error wrapping ErrCrawlFailed.
func (c *Crawler) Crawl(ctx context.Context, name, seedURL string, selectors SelectorMap) (*Result, error) {
	job, err := engine.NewJob(uuid.NewString(), name, seedURL, selectors, c.logger)
	if err != nil {
		return nil, err
	}

	opts := []engine.RunnerOption{engine.WithExpander(c.expander)}
	if c.sink != nil {
		opts = append(opts, engine.WithSink(c.sink))
	}
	runner := engine.NewRunner(c.cfg.Crawl, c.fetcher, c.extractor, c.logger, opts...)
	if err := runner.Run(ctx, job); err != nil {
		return nil, err
	}

	res := job.Snapshot()
	if res.Status == engine.StatusFailed {
		return &res, fmt.Errorf("%w: %s", ErrCrawlFailed, res.Error)
	}
	return &res, nil
}

// Extract fetches a single page and extracts one record without following
// links, keeping up to 50 values per field.
func (c *Crawler) Extract(ctx context.Context, pageURL string, selectors SelectorMap) (*Record, error) {
	if err := selectors.Validate(); err != nil {
		return nil, err
	}
	req, err := types.NewRequest(pageURL)
	if err != nil {
		return nil, err
	}
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	ex := parser.NewExtractor(parser.ListValueCap, c.logger)
	return ex.ExtractResponse(resp, selectors), nil
}

// Detect fetches a page and guesses selectors for its title, content,
// date, images and links.
func (c *Crawler) Detect(ctx context.Context, pageURL string) (SelectorMap, error) {
	req, err := types.NewRequest(pageURL)
	if err != nil {
		return SelectorMap{}, err
	}
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return SelectorMap{}, err
	}
	sels, err := parser.DetectSelectors(resp.Body)
	if err != nil {
		return SelectorMap{}, err
	}
	if sels.Len() == 0 {
		return sels, errors.New("no selectors detected")
	}
	return sels, nil
}

// Close releases the fetcher and any storage connections.
func (c *Crawler) Close() error {
	c.fetcher.Close()
	if c.sink != nil {
		return c.sink.Close()
	}
	return nil
}
