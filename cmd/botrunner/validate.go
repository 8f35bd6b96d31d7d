package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fusserg007/botconstructor/internal/nodes"
	"github.com/fusserg007/botconstructor/internal/validation"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// FileReport is the validation outcome of one schema file.
type FileReport struct {
	File     string                   `json:"file"`
	Valid    bool                     `json:"valid"`
	Errors   []schema.ValidationIssue `json:"errors,omitempty"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema.json>...",
		Short: "Check bot schema files without running them",
		Long: `Validate bot schema files: document shape, node types known to this
build, node settings, dangling edges and graph reachability.

Exits 1 when any file has errors. Warnings do not fail validation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd.OutOrStdout())
		},
	}
}

func runValidate(opts *RootOptions, files []string, w io.Writer) error {
	reg, err := nodes.NewRegistry(nodes.Deps{})
	if err != nil {
		return commandError(err)
	}
	v, err := validation.NewBotValidator(reg)
	if err != nil {
		return commandError(err)
	}

	reports := make([]FileReport, 0, len(files))
	failed := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return commandError(err)
		}
		_, res := v.ValidateDocument(data)
		rep := FileReport{File: path, Valid: res.Valid(), Errors: res.Errors, Warnings: res.Warnings}
		if !rep.Valid {
			failed++
		}
		reports = append(reports, rep)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		for _, rep := range reports {
			writeReport(w, rep, opts.Verbose)
		}
	}

	if failed > 0 {
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%d of %d schema(s) invalid", failed, len(files))}
	}
	return nil
}

func writeReport(w io.Writer, rep FileReport, verbose bool) {
	status := "ok"
	if !rep.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(w, "%s: %s (%d errors, %d warnings)\n", rep.File, status, len(rep.Errors), len(rep.Warnings))
	for _, issue := range rep.Errors {
		fmt.Fprintf(w, "  error   %s [%s]\n", issue, issue.Code)
	}
	if !verbose && rep.Valid {
		return
	}
	for _, issue := range rep.Warnings {
		fmt.Fprintf(w, "  warning %s [%s]\n", issue, issue.Code)
	}
}
