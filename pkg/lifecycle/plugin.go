package lifecycle

import (
	"context"

	"github.com/cloudlift/cloudlift/pkg/cloud"
)

// TaskHandle is a one-way, non-blocking progress sink passed into
// long-running plugin calls. Plugins may report progress at any point during
// a call; they must not store the handle beyond the call's duration. The
// orchestrator never blocks waiting on progress, only on the call's final
// return.
type TaskHandle interface {
	// ReportProgress records a human-readable progress message.
	ReportProgress(message string)
}

// AppPlugin is the capability set every application plugin implements. The
// orchestrator is polymorphic over this interface and never inspects
// concrete plugin types.
//
// Error contract: ProcessAppConfig fails with *ValidationError, ProvisionHost
// with *ProvisioningError (attributing partial resources), ConfigureHost with
// *ConfigurationError (distinguishing transient from fatal). Restart and
// Delete report failure as a false result rather than an error where the
// operation can simply be retried by an operator.
type AppPlugin interface {
	// ProcessAppConfig validates the user-entered application configuration
	// and builds the internal representation consumed by ProvisionHost. It
	// must be fast, deterministic for identical inputs, and must not contact
	// the provider or mutate provider state. The provider handle is passed
	// only so plugins can reference documented, locally-available metadata.
	ProcessAppConfig(provider cloud.Provider, name string, cloudConfig CloudConfig, appConfig AppConfig) (ProcessedConfig, error)

	// SanitiseAppConfig returns a copy of the application configuration with
	// every key the plugin knows to be sensitive removed or masked. The
	// result is safe to persist in logs. Pure, no side effects.
	SanitiseAppConfig(appConfig AppConfig) (RedactedConfig, error)

	// ProvisionHost creates compute and supporting resources on the target
	// provider. It is long-running: it may block, retry against the provider,
	// and report incremental progress via task. The returned result must
	// populate the host key per HostInfo.
	ProvisionHost(ctx context.Context, provider cloud.Provider, task TaskHandle, name string, cloudConfig CloudConfig, appConfig AppConfig, processed ProcessedConfig) (*ProvisionResult, error)

	// ConfigureHost applies post-provisioning configuration to an already
	// provisioned host, reached via the address and credentials in
	// hostConfig. Long-running; idempotence is preferred but not required.
	ConfigureHost(ctx context.Context, task TaskHandle, hostConfig HostInfo, appConfig AppConfig) (ConfigResult, error)

	// HealthCheck produces a status snapshot for the deployment. It is
	// read-only against the deployment, safe to call concurrently and
	// frequently, and must report instance_status=deleted rather than
	// failing when the underlying resource is gone.
	HealthCheck(ctx context.Context, provider cloud.Provider, deployment *Deployment) (HealthReport, error)

	// Restart restarts the appliance backing the deployment. Returns whether
	// the restart was accepted.
	Restart(ctx context.Context, provider cloud.Provider, deployment *Deployment) (bool, error)

	// Delete irreversibly removes the cloud resources tied to the
	// deployment. It must tolerate resources that are already gone rather
	// than failing the entire call.
	Delete(ctx context.Context, provider cloud.Provider, deployment *Deployment) (bool, error)
}
