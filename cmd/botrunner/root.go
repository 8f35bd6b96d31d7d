package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/fusserg007/botconstructor/internal/logging"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Validation failure or a failed dialogue step
	ExitCommandError = 2 // Command error (bad config, unreadable file, etc.)
)

// ExitError carries the exit code a command wants.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func commandError(err error) error {
	return &ExitError{Code: ExitCommandError, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the botrunner root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "botrunner",
		Short:         "Run visual chat-bot schemas",
		Long:          "botrunner executes node-and-edge chat-bot schemas built in a visual constructor: it answers messenger updates, fires schedules and webhooks, and keeps per-user conversation state.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return commandError(fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output and log format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "settings file (default ~/.botconstructor/settings.yaml)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewMCPCommand(opts))
	cmd.AddCommand(NewDiagramCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// logger builds the process logger; --verbose forces debug.
func (o *RootOptions) logger(w io.Writer, level string) *slog.Logger {
	if o.Verbose {
		level = "debug"
	}
	return logging.New(w, level, o.Format)
}

// config loads settings, wrapping failures as command errors.
func (o *RootOptions) config() (Config, error) {
	cfg, err := loadConfig(o.ConfigPath)
	if err != nil {
		return cfg, commandError(err)
	}
	return cfg, nil
}
