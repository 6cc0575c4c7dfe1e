package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/engine"
	"github.com/IshaanNene/crawlmaster/internal/parser"
	"github.com/IshaanNene/crawlmaster/internal/types"
)

var (
	selectorFlags []string
	selectorsFile string
	jobName       string
	budget        int
	delay         time.Duration
	timeout       time.Duration
	outputDir     string
	outputFormats []string
	userAgent     string
	noHeuristic   bool
)

// crawlCmd creates the "crawl" subcommand.
func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a seed page and its links",
		Long: `Fetch the seed URL, follow up to --budget of its same-site links and
extract one record per page. Selectors are "field: selector" pairs; a
selector starting with / or ( (or prefixed xpath:) is XPath, anything else
is CSS.`,
		Example: `  crawlmaster crawl https://example.com/news -s "title: h1" -s "body: article p"
  crawlmaster crawl https://example.com --selectors-file fields.txt -f csv,json`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawl,
	}

	addSelectorFlags(cmd)
	cmd.Flags().StringVarP(&jobName, "name", "n", "", "job name used for the result file (default: host)")
	cmd.Flags().IntVarP(&budget, "budget", "b", -1, "maximum links followed from the seed (-1 = config default)")
	cmd.Flags().DurationVar(&delay, "delay", -1, "pause between page fetches (-1 = config default)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout (0 = config default)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (overrides storage.output_dir)")
	cmd.Flags().StringSliceVarP(&outputFormats, "format", "f", nil, "output formats: json, jsonl, csv, xlsx, sqlite, mongodb")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "custom User-Agent string")
	cmd.Flags().BoolVar(&noHeuristic, "no-heuristic", false, "follow links in page order instead of preferring detail pages")
	return cmd
}

func addSelectorFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&selectorFlags, "selector", "s", nil, `field selector as "field: selector" (repeatable)`)
	cmd.Flags().StringVar(&selectorsFile, "selectors-file", "", `file of "field: selector" lines`)
}

// readSelectors merges --selectors-file and -s flags, flags last.
func readSelectors() (types.SelectorMap, error) {
	var text strings.Builder
	if selectorsFile != "" {
		data, err := os.ReadFile(selectorsFile)
		if err != nil {
			return types.SelectorMap{}, fmt.Errorf("read selectors file: %w", err)
		}
		text.Write(data)
		text.WriteByte('\n')
	}
	for _, s := range selectorFlags {
		text.WriteString(s)
		text.WriteByte('\n')
	}
	sels := types.ParseSelectorText(text.String())
	if err := sels.Validate(); err != nil {
		return types.SelectorMap{}, err
	}
	return sels, nil
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if budget >= 0 {
		cfg.Crawl.PageBudget = budget
	}
	if delay >= 0 {
		cfg.Crawl.Delay = delay
	}
	if timeout > 0 {
		cfg.Fetcher.RequestTimeout = timeout
	}
	if outputDir != "" {
		cfg.Storage.OutputDir = outputDir
	}
	if len(outputFormats) > 0 {
		formats := make([]string, 0, len(outputFormats))
		for _, f := range outputFormats {
			formats = append(formats, strings.ToLower(strings.TrimSpace(f)))
		}
		cfg.Storage.Types = formats
	}
	if userAgent != "" {
		cfg.Fetcher.UserAgent = userAgent
	}
	if noHeuristic {
		cfg.Crawl.DetailHeuristic = false
	}
}

// runCrawl executes the crawl command.
func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(applyCLIOverrides)
	if err != nil {
		return err
	}
	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	sels, err := readSelectors()
	if err != nil {
		return err
	}
	seed := args[0]
	if err := config.ValidateURL(seed); err != nil {
		return fmt.Errorf("invalid URL %q: %w", seed, err)
	}
	name := jobName
	if name == "" {
		req, _ := types.NewRequest(seed)
		name = req.Domain()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := newStack(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer st.Close()

	job, err := engine.NewJob(uuid.NewString(), name, seed, sels, logger)
	if err != nil {
		return err
	}
	opts := []engine.RunnerOption{
		engine.WithExpander(st.expander),
		engine.WithObserver(st.metrics),
	}
	if st.sink != nil {
		opts = append(opts, engine.WithSink(st.sink))
	}
	runner := engine.NewRunner(cfg.Crawl, st.fetcher, parser.NewExtractor(cfg.Crawl.MaxValuesPerField, logger), logger, opts...)

	logger.Info("starting crawl",
		"url", seed,
		"budget", cfg.Crawl.PageBudget,
		"fields", sels.Names(),
		"output", cfg.Storage.OutputDir,
		"formats", cfg.Storage.Types,
	)

	start := time.Now()
	if err := runner.Run(ctx, job); err != nil {
		return err
	}
	snap := job.Summary()
	stats := st.metrics.Snapshot()

	fmt.Printf("\nCrawl %s in %s\n", snap.Status, time.Since(start).Round(time.Millisecond))
	fmt.Printf("   Records:   %d of %d pages (%d failed)\n", snap.Collected, snap.PlannedTotal, snap.ErrorCount)
	fmt.Printf("   Data:      %d bytes downloaded\n", stats["bytes_downloaded"])
	if snap.ResultFile != "" {
		fmt.Printf("   Output:    %s\n", snap.ResultFile)
	}
	if snap.Status == engine.StatusFailed {
		return fmt.Errorf("crawl failed: %s", snap.Error)
	}
	return nil
}

// extractCmd creates the "extract" subcommand.
func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Extract one record from a single page",
		Long:  "Fetch one page without following links and print its record as JSON, keeping up to 50 values per field.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer closeLog()

			sels, err := readSelectors()
			if err != nil {
				return err
			}
			req, err := types.NewRequest(args[0])
			if err != nil {
				return err
			}

			st, err := newStack(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			resp, err := st.fetcher.Fetch(cmd.Context(), req)
			if err != nil {
				return err
			}
			rec := parser.NewExtractor(parser.ListValueCap, logger).ExtractResponse(resp, sels)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
	addSelectorFlags(cmd)
	return cmd
}

// detectCmd creates the "detect" subcommand.
func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <url>",
		Short: "Guess selectors for a page",
		Long:  `Fetch a page and print guessed selectors in "field: selector" format.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer closeLog()

			req, err := types.NewRequest(args[0])
			if err != nil {
				return err
			}
			st, err := newStack(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			resp, err := st.fetcher.Fetch(cmd.Context(), req)
			if err != nil {
				return err
			}
			sels, err := parser.DetectSelectors(resp.Body)
			if err != nil {
				return err
			}
			if sels.Len() == 0 {
				return fmt.Errorf("no selectors detected")
			}
			fmt.Fprintln(cmd.OutOrStdout(), sels.String())
			return nil
		},
	}
}
