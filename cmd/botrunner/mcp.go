package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fusserg007/botconstructor/internal/session"
	botmcp "github.com/fusserg007/botconstructor/pkg/mcp"
)

// NewMCPCommand creates the mcp command.
func NewMCPCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the bot runtime as MCP tools over stdio",
		Long: `Run an MCP server on stdin/stdout. Agents register schemas with
bot.register_schema and talk to them with bot.process_message. Logs go to
stderr; bot replies are returned in tool results only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := rootOpts.logger(os.Stderr, cfg.LogLevel)
			// stdout belongs to the protocol
			a, err := newApp(ctx, cfg, logger, os.Stderr)
			if err != nil {
				return commandError(err)
			}
			defer a.close()

			if _, err := a.loadBots(ctx); err != nil {
				return commandError(err)
			}
			sweeper := session.NewSweeper(a.sessions, cfg.SweepInterval, logger)
			if err := sweeper.Start(ctx); err != nil {
				return err
			}
			defer sweeper.Stop()

			deps := botmcp.Deps{
				Dispatcher: a.dispatcher,
				Validator:  a.validator,
				Logger:     logger,
			}
			if a.store != nil {
				deps.Store = a.store
				deps.Runs = a.events
			}
			srv := botmcp.NewBotServer(deps)
			go func() {
				if err := srv.NewRelay().Run(ctx, a.hub); err != nil {
					logger.Warn("event relay stopped", "error", err)
				}
			}()
			return srv.Serve(ctx)
		},
	}
}
