package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/engine"
	"github.com/IshaanNene/crawlmaster/internal/fetcher"
	"github.com/IshaanNene/crawlmaster/internal/observability"
	"github.com/IshaanNene/crawlmaster/internal/storage"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crawlmaster",
		Short: "crawlmaster: selector-driven web crawler",
		Long: `crawlmaster fetches a seed page, follows a bounded number of its
same-site links and extracts one record per page using CSS or XPath
selectors.

Results can be written as JSON, JSONL, CSV, XLSX, SQLite or MongoDB, and
jobs can be submitted and polled over an HTTP API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies overrides before validating.
func loadConfig(overrides func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if overrides != nil {
		overrides(cfg)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogger creates a structured logger from the logging config. The
// returned closer releases a log file, if one was opened.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	closer := func() {}
	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closer = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

// stack holds the components shared by every job in one process.
type stack struct {
	fetcher  *fetcher.HTTPFetcher
	metrics  *observability.Metrics
	expander *engine.Expander
	sink     storage.Storage
}

func newStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, withSink bool) (*stack, error) {
	f, err := fetcher.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	metrics := observability.NewMetrics(logger)
	f.SetObserver(metrics)

	var robots *engine.RobotsFilter
	if cfg.Crawl.RespectRobotsTxt {
		robots = engine.NewRobotsFilter(f, cfg.Fetcher.UserAgent, logger)
	}

	s := &stack{
		fetcher:  f,
		metrics:  metrics,
		expander: engine.NewExpander(cfg.Crawl, robots),
	}
	if withSink && len(cfg.Storage.Types) > 0 {
		s.sink, err = storage.New(ctx, cfg.Storage, logger)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create storage: %w", err)
		}
	}
	return s, nil
}

func (s *stack) Close() {
	if s.sink != nil {
		s.sink.Close()
	}
	s.fetcher.Close()
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crawlmaster %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			fmt.Printf("Crawl:\n")
			fmt.Printf("  Page Budget:        %d\n", cfg.Crawl.PageBudget)
			fmt.Printf("  Delay:              %s\n", cfg.Crawl.Delay)
			fmt.Printf("  Max Values/Field:   %d\n", cfg.Crawl.MaxValuesPerField)
			fmt.Printf("  Detail Heuristic:   %v %v\n", cfg.Crawl.DetailHeuristic, cfg.Crawl.DetailPatterns)
			fmt.Printf("  Include Subdomains: %v\n", cfg.Crawl.IncludeSubdomains)
			fmt.Printf("  Respect robots.txt: %v\n", cfg.Crawl.RespectRobotsTxt)
			fmt.Printf("\nFetcher:\n")
			fmt.Printf("  User Agent:         %s\n", cfg.Fetcher.UserAgent)
			fmt.Printf("  Request Timeout:    %s\n", cfg.Fetcher.RequestTimeout)
			fmt.Printf("  Max Retries:        %d\n", cfg.Fetcher.MaxRetries)
			fmt.Printf("  Requests/Second:    %g\n", cfg.Fetcher.RequestsPerSecond)
			fmt.Printf("  Max Body Size:      %d bytes\n", cfg.Fetcher.MaxBodySize)
			fmt.Printf("\nServer:\n")
			fmt.Printf("  Address:            %s\n", cfg.Server.Addr)
			fmt.Printf("  Max Jobs:           %d\n", cfg.Server.MaxConcurrentJobs)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Types:              %s\n", strings.Join(cfg.Storage.Types, ", "))
			fmt.Printf("  Output Dir:         %s\n", cfg.Storage.OutputDir)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Path:               %s\n", cfg.Metrics.Path)
			return nil
		},
	}
}
