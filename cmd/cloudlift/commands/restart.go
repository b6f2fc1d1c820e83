package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRestartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart <deployment-id>",
		Short: "Restart a deployment",
		Long: `Restart the appliance backing a deployment.

Only settled deployments (healthy or unhealthy) can be restarted. A health
check runs after the restart to reconcile the stored status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := setupApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.close(context.WithoutCancel(ctx))

			ok, err := app.controller.Restart(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("restart of deployment %s was not accepted", args[0])
			}

			log.Info().Str("deployment_id", args[0]).Msg("Restart accepted")
			deployment, err := app.controller.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printDeployment(deployment)
		},
	}

	return cmd
}
