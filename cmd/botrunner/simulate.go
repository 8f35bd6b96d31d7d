package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fusserg007/botconstructor/pkg/schema"
)

// SimulationStep is one user message and what the bot did with it.
type SimulationStep struct {
	Input     string                `json:"input"`
	Success   bool                  `json:"success"`
	Responses []schema.ResponseItem `json:"responses"`
	Errors    []string              `json:"errors,omitempty"`
}

// SimulateOptions holds the simulated user's identity.
type SimulateOptions struct {
	UserID    string
	FirstName string
	Platform  string
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	simOpts := &SimulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate <schema.json> <message>...",
		Short: "Play a conversation against a schema in the terminal",
		Long: `Register one schema in an in-memory runtime and send it each message
in order, as a single user. Bot replies are printed as a transcript; with
--format json the per-message responses are printed instead.

Exits 1 when any message fails.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, rootOpts, simOpts, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&simOpts.UserID, "user", "cli", "user and chat ID of the simulated user")
	cmd.Flags().StringVar(&simOpts.FirstName, "name", "", "first name of the simulated user")
	cmd.Flags().StringVar(&simOpts.Platform, "platform", "console", "platform reported to the bot")
	return cmd
}

func runSimulate(cmd *cobra.Command, opts *RootOptions, sim *SimulateOptions, schemaPath string, messages []string) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	cfg.Persistence = PersistMemory
	if !opts.Verbose {
		cfg.LogLevel = "warn"
	}

	out := cmd.OutOrStdout()
	transcriptOut := out
	if opts.Format == "json" {
		transcriptOut = io.Discard
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, opts.logger(cmd.ErrOrStderr(), cfg.LogLevel), transcriptOut)
	if err != nil {
		return commandError(err)
	}
	defer a.close()

	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return commandError(err)
	}
	const botID = "simulation"
	if err := a.register(botID, data); err != nil {
		return commandError(err)
	}

	m := a.messenger(sim.Platform)
	steps := make([]SimulationStep, 0, len(messages))
	failed := 0
	for _, text := range messages {
		fmt.Fprintf(transcriptOut, "%s -> bot: %s\n", sim.UserID, text)
		resp := a.dispatcher.ProcessMessage(ctx, botID, schema.BotMessage{
			UserID:    sim.UserID,
			ChatID:    sim.UserID,
			Text:      text,
			Platform:  sim.Platform,
			FirstName: sim.FirstName,
			Timestamp: time.Now().UTC(),
		}, m)
		if !resp.Success {
			failed++
			for _, e := range resp.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", e)
			}
		}
		steps = append(steps, SimulationStep{
			Input:     text,
			Success:   resp.Success,
			Responses: resp.Responses,
			Errors:    resp.Errors,
		})
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(steps); err != nil {
			return err
		}
	}
	if failed > 0 {
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%d of %d message(s) failed", failed, len(messages))}
	}
	return nil
}
