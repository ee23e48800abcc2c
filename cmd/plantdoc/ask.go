package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ent0n29/plantdoc/internal/app"
	"github.com/ent0n29/plantdoc/internal/tui"
)

var errAgentFailed = errors.New("agent call failed")

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		raw   bool
		width int
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the cleaned answer",
		Example: `  plantdoc ask "What diseases affect tomato plants?"
  plantdoc ask --mode mock "Why are my rose leaves turning yellow?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := opts.credential()
			if err != nil {
				return err
			}
			built, err := app.Build(cmd.Context(), opts.cfg, opts.logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			sessionID, err := built.StartSession(cmd.Context(), key)
			if err != nil {
				return err
			}
			defer built.Sessions.End(sessionID)

			ex, err := built.Chat.Ask(cmd.Context(), sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if raw {
				fmt.Fprintln(out, ex.Assistant.Content)
			} else {
				fmt.Fprint(out, tui.RenderMarkdown(ex.Assistant.Content, width))
			}
			for _, src := range ex.Sources {
				if src.Title != "" {
					fmt.Fprintf(out, "  source: %s (%s)\n", src.Title, src.URI)
					continue
				}
				fmt.Fprintf(out, "  source: %s\n", src.URI)
			}
			if ex.Failed {
				return fmt.Errorf("%w (%s)", errAgentFailed, ex.ErrorCode)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the cleaned answer without markdown rendering")
	cmd.Flags().IntVar(&width, "width", 80, "Word wrap width for rendered output")
	return cmd
}
