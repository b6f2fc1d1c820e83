package basevm

import (
	"context"
	"errors"

	"github.com/cloudlift/cloudlift/pkg/cloud"
	"github.com/cloudlift/cloudlift/pkg/lifecycle"
)

// HealthCheck implements lifecycle.AppPlugin. A vanished instance is a
// positive answer (instance_status=deleted), never an error. The same holds
// for a deployment that never recorded an instance: there is nothing at the
// provider, so the report confirms deletion and a pending delete can settle.
func (p *Plugin) HealthCheck(ctx context.Context, provider cloud.Provider, deployment *lifecycle.Deployment) (lifecycle.HealthReport, error) {
	instanceID := deployment.LaunchResult.InstanceID()
	if instanceID == "" {
		return lifecycle.NewHealthReport(lifecycle.InstanceDeleted), nil
	}

	instance, err := provider.GetInstance(ctx, instanceID)
	if errors.Is(err, cloud.ErrInstanceNotFound) {
		return lifecycle.NewHealthReport(lifecycle.InstanceDeleted), nil
	}
	if err != nil {
		return nil, err
	}

	report := lifecycle.NewHealthReport(instanceStatus(instance.State))
	report["instance_state"] = string(instance.State)
	if instance.PublicIP != "" {
		report["public_ip"] = instance.PublicIP
	}
	return report, nil
}

// Restart implements lifecycle.AppPlugin via an infrastructure-level reboot.
// A vanished instance means the restart cannot be accepted.
func (p *Plugin) Restart(ctx context.Context, provider cloud.Provider, deployment *lifecycle.Deployment) (bool, error) {
	instanceID := deployment.LaunchResult.InstanceID()
	if instanceID == "" {
		return false, nil
	}

	err := provider.RebootInstance(ctx, instanceID)
	if errors.Is(err, cloud.ErrInstanceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p.logger.Info().
		Str("deployment_id", deployment.ID).
		Str("instance_id", instanceID).
		Msg("Instance reboot requested")
	return true, nil
}

// Delete implements lifecycle.AppPlugin. Resources that are already gone
// count as deleted rather than failing the call.
func (p *Plugin) Delete(ctx context.Context, provider cloud.Provider, deployment *lifecycle.Deployment) (bool, error) {
	instanceID := deployment.LaunchResult.InstanceID()
	if instanceID == "" {
		return true, nil
	}

	err := provider.DeleteInstance(ctx, instanceID)
	if errors.Is(err, cloud.ErrInstanceNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	p.logger.Info().
		Str("deployment_id", deployment.ID).
		Str("instance_id", instanceID).
		Msg("Instance deleted")
	return true, nil
}

// instanceStatus maps provider instance states onto the health report
// vocabulary.
func instanceStatus(state cloud.InstanceState) lifecycle.InstanceStatus {
	switch state {
	case cloud.StateRunning:
		return lifecycle.InstanceRunning
	case cloud.StateStopped:
		return lifecycle.InstanceStopped
	case cloud.StatePending, cloud.StateRebooting:
		return lifecycle.InstancePending
	default:
		return lifecycle.InstanceUnknown
	}
}
