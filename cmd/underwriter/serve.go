package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/underwriter"
	"github.com/hupe1980/underwriter/api"
	"github.com/hupe1980/underwriter/config"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	configPath string
	addr       string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the underwriting HTTP API",
		Long: `Run the underwriting HTTP API.

Workflows left open by a previous process are recovered from the history
store before the listener starts. SIGINT or SIGTERM stops the listener and
leaves running workflows open for the next start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration (defaults apply when empty)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address, overrides listen_addr")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}

	return config.Load(path)
}

func runServe(parent context.Context, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	if opts.addr != "" {
		cfg.ListenAddr = opts.addr
	}

	u, err := underwriter.New(ctx, cfg)
	if err != nil {
		return err
	}

	logger := u.Logger()

	closeCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), shutdownTimeout)
	}

	if _, err := u.Recover(ctx); err != nil {
		cctx, cancel := closeCtx()
		defer cancel()

		return errors.Join(fmt.Errorf("failed to recover workflows: %w", err), u.Close(cctx))
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewServer(u.Coordinator(), func(o *api.Options) {
			o.Evaluators = u.Evaluators()
			o.Logger = logger
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.ListenAddr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	var serveErr error

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case serveErr = <-errCh:
	}

	cctx, cancel := closeCtx()
	defer cancel()

	return errors.Join(serveErr, srv.Shutdown(cctx), u.Close(cctx))
}
