package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudlift/cloudlift/pkg/lifecycle"
)

func newLaunchCommand() *cobra.Command {
	var (
		name            string
		appID           string
		appConfigPath   string
		cloudConfigPath string
		wait            bool
		waitTimeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch a new deployment",
		Long: `Launch a new application deployment.

This command:
  - Validates the application config against the plugin schema
  - Evaluates launch policies
  - Provisions the instance and supporting resources
  - Configures the host over SSH
  - Reports progress until the deployment is healthy (with --wait)`,
		Example: `  # Launch a base VM with the fake provider
  cloudlift launch --dev --name demo --app base-vm

  # Launch a web app and wait for it to become healthy
  cloudlift launch --name shop --app web-app --app-config shop.yaml --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := loadConfigMap(appConfigPath)
			if err != nil {
				return err
			}
			cloudConfig, err := loadConfigMap(cloudConfigPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := setupApp(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.close(context.WithoutCancel(ctx))

			if app.cfg.Provider.Region != "" {
				if _, ok := cloudConfig["region"]; !ok {
					cloudConfig["region"] = app.cfg.Provider.Region
				}
			}

			deployment, err := app.controller.Launch(ctx, lifecycle.LaunchRequest{
				Name:        name,
				AppID:       appID,
				CloudConfig: cloudConfig,
				AppConfig:   appConfig,
			})
			if err != nil {
				return err
			}

			log.Info().
				Str("deployment_id", deployment.ID).
				Str("status", string(deployment.LaunchStatus)).
				Msg("Launch accepted")

			if wait {
				deployment, err = waitForLaunch(ctx, app, deployment.ID, waitTimeout)
				if err != nil {
					return err
				}
			} else {
				// Without --wait the command still lets the background launch
				// finish before exiting; the process hosts the pipeline.
				app.controller.Wait()
				deployment, err = app.controller.Get(ctx, deployment.ID)
				if err != nil {
					return err
				}
			}

			return printDeployment(deployment)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "deployment name")
	cmd.Flags().StringVarP(&appID, "app", "a", "", "application type (see 'cloudlift plugins')")
	cmd.Flags().StringVar(&appConfigPath, "app-config", "", "application config YAML file")
	cmd.Flags().StringVar(&cloudConfigPath, "cloud-config", "", "cloud config YAML file")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the deployment reaches a settled state")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 30*time.Minute, "maximum time to wait")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("app")

	return cmd
}

// waitForLaunch polls the deployment record until it settles.
func waitForLaunch(ctx context.Context, app *app, deploymentID string, timeout time.Duration) (*lifecycle.Deployment, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		deployment, err := app.controller.Get(waitCtx, deploymentID)
		if err != nil {
			return nil, err
		}
		switch deployment.LaunchStatus {
		case lifecycle.StatusHealthy, lifecycle.StatusUnhealthy,
			lifecycle.StatusError, lifecycle.StatusDeleted:
			return deployment, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("deployment %s did not settle within %s", deploymentID, timeout)
		case <-ticker.C:
		}
	}
}

// loadConfigMap reads a YAML mapping from a file, or returns an empty map
// when no path was given.
func loadConfigMap(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return out, nil
}
