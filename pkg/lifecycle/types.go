package lifecycle

import (
	"encoding/json"
	"fmt"
	"time"
)

// AppConfig is the merged application configuration for one deployment: the
// database-stored defaults for the application type overlaid with the
// user-entered values. It is treated as immutable once passed to a plugin
// call.
type AppConfig map[string]interface{}

// CloudConfig describes the target infrastructure independent of the
// application (region, credentials handle, network, image). It is supplied by
// the orchestrator and opaque to plugins beyond documented keys.
type CloudConfig map[string]interface{}

// RedactedConfig is a sanitized view of an AppConfig, safe to persist in logs.
type RedactedConfig map[string]interface{}

// ConfigResult carries the outcome of the host-configuration stage. Its
// contents are plugin-specific.
type ConfigResult map[string]interface{}

// ProcessedConfig is a plugin-produced, validated and normalized form of an
// application configuration. The orchestrator treats it as a sealed capsule:
// it is produced by ProcessAppConfig, round-tripped unchanged into
// ProvisionHost, and never inspected or mutated in between.
type ProcessedConfig struct {
	raw json.RawMessage
}

// Seal encodes a plugin-owned value into a ProcessedConfig capsule.
func Seal(v interface{}) (ProcessedConfig, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return ProcessedConfig{}, fmt.Errorf("failed to seal processed config: %w", err)
	}
	return ProcessedConfig{raw: raw}, nil
}

// SealRaw wraps an already-encoded payload into a ProcessedConfig capsule.
func SealRaw(raw json.RawMessage) ProcessedConfig {
	return ProcessedConfig{raw: raw}
}

// Open decodes the capsule into a plugin-owned value. Only the plugin that
// sealed the capsule should call this.
func (p ProcessedConfig) Open(v interface{}) error {
	if len(p.raw) == 0 {
		return fmt.Errorf("processed config is empty")
	}
	return json.Unmarshal(p.raw, v)
}

// IsZero returns true if the capsule carries no payload.
func (p ProcessedConfig) IsZero() bool { return len(p.raw) == 0 }

// MarshalJSON round-trips the sealed payload unchanged.
func (p ProcessedConfig) MarshalJSON() ([]byte, error) {
	if len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return p.raw, nil
}

// UnmarshalJSON round-trips the sealed payload unchanged.
func (p *ProcessedConfig) UnmarshalJSON(data []byte) error {
	p.raw = append(p.raw[:0], data...)
	return nil
}

// HostInfo is the minimum shape any provisioning result must contain under
// its "host" key. The field names are a bit-exact wire contract: other
// systems parse them.
type HostInfo struct {
	// Address is the IP address or hostname of the provisioned host.
	Address string `json:"address"`

	// PrivateKey is the private portion of an SSH key for accessing the
	// host. It is a secret and must never appear in sanitized output or
	// logs.
	PrivateKey string `json:"pk"`

	// User is the username with which to access the host.
	User string `json:"user"`

	// Extra carries additional provider-specific host fields.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// ProvisionResult is produced exactly once per successful provisioning call
// and is immutable thereafter. The cloudlaunch and host key names are a
// bit-exact wire contract.
type ProvisionResult struct {
	// CloudLaunch holds provider-specific provisioning metadata (instance
	// ID, key pair, public IP, application URL).
	CloudLaunch map[string]interface{} `json:"cloudlaunch"`

	// Host describes how to reach the provisioned host.
	Host HostInfo `json:"host"`
}

// InstanceID extracts the provider instance identifier recorded under the
// cloudlaunch metadata, or "" when not present.
func (r *ProvisionResult) InstanceID() string {
	if r == nil || r.CloudLaunch == nil {
		return ""
	}
	inst, ok := r.CloudLaunch["instance"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := inst["id"].(string)
	return id
}

// Deployment is the durable record of one application deployment. Storage is
// owned by the persistence collaborator; the lifecycle core reads and writes
// launch_result and launch_status through the Store boundary and nothing
// else writes launch_status.
type Deployment struct {
	// ID is the deployment identity used for locking and persistence.
	ID string `json:"id"`

	// Name is the user-visible deployment name.
	Name string `json:"name"`

	// AppID identifies the application type and thus the plugin.
	AppID string `json:"app_id"`

	// LaunchStatus is the current state machine position.
	LaunchStatus LaunchStatus `json:"launch_status"`

	// LaunchResult is the provisioning result, present once provisioning
	// succeeded, or the retained partial result after a provisioning
	// failure.
	LaunchResult *ProvisionResult `json:"launch_result,omitempty"`

	// LaunchError is the failure payload attached when the state machine
	// entered the error state.
	LaunchError string `json:"launch_error,omitempty"`

	// CreatedAt is when the deployment request was accepted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// HealthReport is a status snapshot for a running deployment. It always
// carries instance_status and may carry app-specific fields.
type HealthReport map[string]interface{}

// NewHealthReport creates a report with the given instance status.
func NewHealthReport(status InstanceStatus) HealthReport {
	return HealthReport{"instance_status": string(status)}
}

// InstanceStatus returns the provider-level status recorded in the report,
// or InstanceUnknown when absent.
func (r HealthReport) InstanceStatus() InstanceStatus {
	s, ok := r["instance_status"].(string)
	if !ok {
		return InstanceUnknown
	}
	return InstanceStatus(s)
}

// DeploymentEvent is one entry in a deployment's progress/audit log.
type DeploymentEvent struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// DeploymentID is the deployment this event belongs to.
	DeploymentID string `json:"deployment_id"`

	// Stage is the lifecycle stage that emitted the event.
	Stage string `json:"stage"`

	// Message is a human-readable progress message.
	Message string `json:"message"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
