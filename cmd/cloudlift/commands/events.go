package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <deployment-id>",
		Short: "Show a deployment's progress log",
		Long:  `Show the recorded progress and audit events for a deployment, oldest first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := setupApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.close(context.WithoutCancel(ctx))

			events, err := app.controller.Events(ctx, args[0])
			if err != nil {
				return err
			}
			return printEvents(events)
		},
	}

	return cmd
}
