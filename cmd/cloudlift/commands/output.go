package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cloudlift/cloudlift/pkg/lifecycle"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDeployment(d *lifecycle.Deployment) error {
	if jsonOutput {
		return printJSON(d)
	}

	fmt.Printf("Deployment: %s (%s)\n", d.Name, d.ID)
	fmt.Printf("  App:      %s\n", d.AppID)
	fmt.Printf("  Status:   %s\n", d.LaunchStatus)
	fmt.Printf("  Created:  %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
	if d.LaunchError != "" {
		fmt.Printf("  Error:    %s\n", d.LaunchError)
	}
	if d.LaunchResult != nil {
		if d.LaunchResult.Host.Address != "" {
			fmt.Printf("  Address:  %s\n", d.LaunchResult.Host.Address)
		}
		if id := d.LaunchResult.InstanceID(); id != "" {
			fmt.Printf("  Instance: %s\n", id)
		}
		if url, ok := d.LaunchResult.CloudLaunch["applicationURL"].(string); ok {
			fmt.Printf("  URL:      %s\n", url)
		}
	}
	return nil
}

func printDeploymentList(deployments []*lifecycle.Deployment) error {
	if jsonOutput {
		return printJSON(deployments)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tAPP\tSTATUS\tCREATED")
	for _, d := range deployments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Name, d.AppID, d.LaunchStatus, d.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func printEvents(events []lifecycle.DeploymentEvent) error {
	if jsonOutput {
		return printJSON(events)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tSTAGE\tMESSAGE")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			ev.Timestamp.Format("15:04:05"), ev.Stage, ev.Message)
	}
	return w.Flush()
}
