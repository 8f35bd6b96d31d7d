package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fusserg007/botconstructor/internal/diagram"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DiagramOptions holds flags for the diagram command.
type DiagramOptions struct {
	Type   string
	Output string
}

// NewDiagramCommand creates the diagram command.
func NewDiagramCommand() *cobra.Command {
	opts := &DiagramOptions{}
	cmd := &cobra.Command{
		Use:   "diagram <schema.json>",
		Short: "Draw a bot schema",
		Long: `Render a bot schema as a Mermaid flowchart, an ASCII sketch, SVG or PNG.

The type is taken from --type, else from the --output extension, else mermaid.
Binary formats need --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagram(cmd, args[0], opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "mermaid|ascii|svg|png")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func runDiagram(cmd *cobra.Command, path string, opts *DiagramOptions, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return commandError(err)
	}
	bot, err := schema.ParseBotSchema(data)
	if err != nil {
		return commandError(fmt.Errorf("%s: %w", path, err))
	}
	if bot.ID == "" {
		bot.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	model, err := diagram.Build(bot, nil)
	if err != nil {
		return commandError(err)
	}

	kind := opts.Type
	if kind == "" {
		kind = strings.TrimPrefix(filepath.Ext(opts.Output), ".")
	}
	var out []byte
	switch kind {
	case "", "mermaid", "mmd", "md":
		out = []byte(diagram.RenderMermaid(model))
	case "ascii", "txt":
		out = []byte(diagram.RenderASCII(model))
	case "svg":
		out, err = diagram.RenderSVG(cmd.Context(), model)
	case "png":
		if opts.Output == "" {
			return commandError(fmt.Errorf("png output needs --output"))
		}
		out, err = diagram.RenderImage(cmd.Context(), model)
	default:
		return commandError(fmt.Errorf("unknown diagram type %q", kind))
	}
	if err != nil {
		return err
	}

	if opts.Output == "" {
		_, err = w.Write(out)
		return err
	}
	return os.WriteFile(opts.Output, out, 0o644)
}
