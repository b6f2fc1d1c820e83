package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudlift/cloudlift/pkg/telemetry"
)

func newPluginsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List available application plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Listing plugins needs no store or provider.
			logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Output: "stderr"})
			if err != nil {
				return err
			}
			registry, err := buildRegistry(logger)
			if err != nil {
				return err
			}

			appIDs := registry.List()
			if jsonOutput {
				return printJSON(appIDs)
			}
			for _, id := range appIDs {
				fmt.Println(id)
			}
			return nil
		},
	}

	return cmd
}
