package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ent0n29/plantdoc/internal/app"
	"github.com/ent0n29/plantdoc/internal/tui"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive terminal chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			return tui.Run(cmd.Context(), built.Chat, sessionID)
		},
	}
}
