package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <deployment-id>",
		Short: "Delete a deployment",
		Long: `Delete a deployment's cloud resources.

The deployment record only reaches the deleted state once the provider
confirms the instance is gone; until then it stays in deleting and the
command can be re-run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := setupApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.close(context.WithoutCancel(ctx))

			confirmed, err := app.controller.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if confirmed {
				log.Info().Str("deployment_id", args[0]).Msg("Deployment deleted")
			} else {
				log.Warn().Str("deployment_id", args[0]).
					Msg("Deletion issued but not yet confirmed; re-run to confirm")
			}

			deployment, err := app.controller.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printDeployment(deployment)
		},
	}

	return cmd
}
