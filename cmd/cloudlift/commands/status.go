package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var health bool

	cmd := &cobra.Command{
		Use:   "status [deployment-id]",
		Short: "Show deployment status",
		Long: `Show the status of one deployment, or list all deployments.

With --health the deployment's plugin is asked for a live health report,
which also reconciles the stored status with what the provider reports.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := setupApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.close(context.WithoutCancel(ctx))

			if len(args) == 0 {
				deployments, err := app.controller.List(ctx)
				if err != nil {
					return err
				}
				return printDeploymentList(deployments)
			}

			deploymentID := args[0]
			if health {
				report, err := app.controller.HealthCheck(ctx, deploymentID)
				if err != nil {
					return err
				}
				if jsonOutput {
					if err := printJSON(report); err != nil {
						return err
					}
				} else {
					fmt.Printf("Instance status: %s\n", report.InstanceStatus())
				}
			}

			deployment, err := app.controller.Get(ctx, deploymentID)
			if err != nil {
				return err
			}
			return printDeployment(deployment)
		},
	}

	cmd.Flags().BoolVar(&health, "health", false, "run a live health check against the provider")

	return cmd
}
