package lifecycle

import (
	"encoding/json"
	"fmt"
)

// LaunchStatus represents the state of a deployment in the lifecycle state
// machine. Only the Controller writes it; every write is checked against the
// transition table below.
type LaunchStatus string

const (
	// StatusCreated indicates the deployment record exists but nothing has
	// run yet.
	StatusCreated LaunchStatus = "created"

	// StatusValidating indicates the plugin is validating the app config.
	StatusValidating LaunchStatus = "validating"

	// StatusProvisioning indicates infrastructure is being created.
	StatusProvisioning LaunchStatus = "provisioning"

	// StatusConfiguring indicates the provisioned host is being configured.
	StatusConfiguring LaunchStatus = "configuring"

	// StatusHealthy indicates the deployment is running and passing health
	// checks.
	StatusHealthy LaunchStatus = "healthy"

	// StatusUnhealthy indicates the deployment failed its last health check.
	StatusUnhealthy LaunchStatus = "unhealthy"

	// StatusDeleting indicates a delete was requested but the provider has
	// not yet confirmed the resources are gone.
	StatusDeleting LaunchStatus = "deleting"

	// StatusDeleted indicates the provider confirmed all resources are gone.
	StatusDeleted LaunchStatus = "deleted"

	// StatusError is the absorbing failure state, reachable from validating,
	// provisioning, and configuring. Partial resources are retained.
	StatusError LaunchStatus = "error"
)

// transitions is the authoritative ordering contract of the lifecycle state
// machine. Delete (-> deleting) is additionally allowed from every
// non-deleted state, handled in CanTransition.
var transitions = map[LaunchStatus][]LaunchStatus{
	StatusCreated:      {StatusValidating},
	StatusValidating:   {StatusProvisioning, StatusError},
	StatusProvisioning: {StatusConfiguring, StatusError},
	StatusConfiguring:  {StatusHealthy, StatusError},
	StatusHealthy:      {StatusUnhealthy},
	StatusUnhealthy:    {StatusHealthy},
	StatusDeleting:     {StatusDeleted},
	StatusDeleted:      {},
	StatusError:        {},
}

// CanTransition returns true if the state machine permits moving from s to
// target. A delete request may be issued from any non-deleted state, so
// every state except deleted may transition to deleting.
func (s LaunchStatus) CanTransition(target LaunchStatus) bool {
	if target == StatusDeleting {
		return s != StatusDeleted
	}
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible other than
// an operator-issued delete.
func (s LaunchStatus) IsTerminal() bool {
	return s == StatusDeleted || s == StatusError
}

// IsLaunching returns true while the initial launch pipeline is in flight.
func (s LaunchStatus) IsLaunching() bool {
	return s == StatusCreated || s == StatusValidating ||
		s == StatusProvisioning || s == StatusConfiguring
}

// Validate checks if the launch status is a known value.
func (s LaunchStatus) Validate() error {
	switch s {
	case StatusCreated, StatusValidating, StatusProvisioning, StatusConfiguring,
		StatusHealthy, StatusUnhealthy, StatusDeleting, StatusDeleted, StatusError:
		return nil
	default:
		return fmt.Errorf("invalid launch status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s LaunchStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *LaunchStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = LaunchStatus(str)
	return s.Validate()
}

// InstanceStatus is the provider-level status of the compute resource backing
// a deployment, as reported by health checks.
type InstanceStatus string

const (
	// InstanceRunning indicates the instance is up.
	InstanceRunning InstanceStatus = "running"

	// InstanceStopped indicates the instance exists but is not running.
	InstanceStopped InstanceStatus = "stopped"

	// InstancePending indicates the instance is still coming up.
	InstancePending InstanceStatus = "pending"

	// InstanceDeleted indicates the provider no longer knows the instance.
	// This is a positive health-check result, not an error.
	InstanceDeleted InstanceStatus = "deleted"

	// InstanceUnknown indicates the provider could not determine the state.
	InstanceUnknown InstanceStatus = "unknown"
)
