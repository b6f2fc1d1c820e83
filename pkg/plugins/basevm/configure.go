package basevm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudlift/cloudlift/pkg/lifecycle"
	sshtransport "github.com/cloudlift/cloudlift/pkg/transports/ssh"
)

// remoteScriptPath is where the configuration script lands on the host.
const remoteScriptPath = "/tmp/cloudlift-configure.sh"

// ConfigureHost implements lifecycle.AppPlugin. It uploads the configuration
// script over SFTP and runs it over SSH. Connectivity failures come back
// transient so the orchestrator can surface them as retryable; a script that
// ran and failed is fatal.
func (p *Plugin) ConfigureHost(ctx context.Context, task lifecycle.TaskHandle, hostConfig lifecycle.HostInfo, appConfig lifecycle.AppConfig) (lifecycle.ConfigResult, error) {
	script := stringKey(appConfig, "configure_script", "")
	if script == "" {
		task.ReportProgress("No configuration script, skipping host configuration")
		return lifecycle.ConfigResult{"configured": false}, nil
	}

	if hostConfig.Address == "" {
		return nil, lifecycle.NewConfigurationError("provision result carries no host address", nil)
	}

	user := hostConfig.User
	if user == "" {
		user = "ubuntu"
	}

	transport, err := p.newTransport(sshtransport.DefaultConfig(hostConfig.Address, user, hostConfig.PrivateKey))
	if err != nil {
		return nil, lifecycle.NewConfigurationError("failed to build SSH transport", err)
	}
	defer transport.Disconnect()

	task.ReportProgress(fmt.Sprintf("Waiting for SSH on %s", hostConfig.Address))
	if err := transport.WaitReady(ctx); err != nil {
		return nil, classifyTransportError("host not reachable over SSH", err)
	}

	task.ReportProgress("Uploading configuration script")
	if err := transport.Upload(ctx, remoteScriptPath, []byte(script), 0o755); err != nil {
		return nil, classifyTransportError("failed to upload configuration script", err)
	}

	task.ReportProgress("Running configuration script")
	result, err := transport.Run(ctx, "bash "+remoteScriptPath)
	if err != nil {
		return nil, classifyTransportError("failed to run configuration script", err)
	}
	if result.ExitCode != 0 {
		return nil, lifecycle.NewConfigurationError(
			fmt.Sprintf("configuration script exited with %d: %s",
				result.ExitCode, strings.TrimSpace(result.Stderr)), nil)
	}

	p.logger.Info().
		Str("host", hostConfig.Address).
		Dur("duration", result.Duration).
		Msg("Host configured")

	return lifecycle.ConfigResult{
		"configured": true,
		"exit_code":  result.ExitCode,
		"duration":   result.Duration.String(),
	}, nil
}

// classifyTransportError maps transport failures onto the configuration
// error contract: temporary network conditions are transient, auth and
// everything else is fatal.
func classifyTransportError(message string, err error) error {
	var terr *sshtransport.TransportError
	if errors.As(err, &terr) && terr.Temporary() {
		return lifecycle.NewTransientConfigurationError(message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return lifecycle.NewTransientConfigurationError(message, err)
	}
	return lifecycle.NewConfigurationError(message, err)
}
