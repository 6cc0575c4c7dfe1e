package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/crawlmaster/internal/api"
	"github.com/IshaanNene/crawlmaster/internal/config"
	"github.com/IshaanNene/crawlmaster/internal/registry"
)

var serveAddr string

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serve the job API: submit, poll and cancel crawl jobs, download results.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(func(c *config.Config) {
		if serveAddr != "" {
			c.Server.Addr = serveAddr
		}
	})
	if err != nil {
		return err
	}
	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := newStack(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []registry.Option{
		registry.WithObserver(st.metrics),
		registry.WithExpander(st.expander),
	}
	if st.sink != nil {
		opts = append(opts, registry.WithSink(st.sink))
	}
	reg := registry.New(cfg, st.fetcher, logger, opts...)
	srv := api.NewServer(cfg, reg, st.fetcher, logger, api.WithMetrics(st.metrics))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("received signal, shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown", "error", err)
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs still running at shutdown", "error", err)
	}
	return nil
}
