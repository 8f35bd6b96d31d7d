package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fusserg007/botconstructor/internal/httpapi"
	"github.com/fusserg007/botconstructor/internal/scheduler"
	"github.com/fusserg007/botconstructor/internal/session"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen, botsDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve registered bots over HTTP",
		Long: `Start the HTTP API, the session sweeper and the schedule runner.

Bots saved in the database and *.json files in --bots are registered at
startup. Outbound messages are printed to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			if botsDir != "" {
				cfg.BotsDir = botsDir
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides listen_addr)")
	cmd.Flags().StringVar(&botsDir, "bots", "", "directory of bot schema files to register")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, cfg Config) error {
	logger := opts.logger(os.Stderr, cfg.LogLevel)

	a, err := newApp(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return commandError(err)
	}
	defer a.close()

	n, err := a.loadBots(ctx)
	if err != nil {
		return commandError(err)
	}
	logger.Info("bots registered", "count", n)

	sweeper := session.NewSweeper(a.sessions, cfg.SweepInterval, logger)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	sched := scheduler.New(a.dispatcher, a.messenger,
		scheduler.WithLogger(logger),
		scheduler.WithHub(a.hub),
		scheduler.WithInterval(cfg.ScheduleTick),
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	deps := httpapi.Deps{
		Dispatcher: a.dispatcher,
		Validator:  a.validator,
		Scheduler:  sched,
		Hub:        a.hub,
		Messenger:  a.messenger,
		Logger:     logger,
	}
	if a.store != nil {
		deps.Store = a.store
		deps.Runs = a.events
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewServer(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return commandError(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
