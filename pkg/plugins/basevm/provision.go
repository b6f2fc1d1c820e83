package basevm

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudlift/cloudlift/pkg/cloud"
	"github.com/cloudlift/cloudlift/pkg/lifecycle"
)

// ProvisionHost implements lifecycle.AppPlugin. It creates the key pair and
// instance, waits for the instance to come up and attaches a public address.
// Resources created before a failure are attributed on the returned
// ProvisioningError and never cleaned up here.
func (p *Plugin) ProvisionHost(ctx context.Context, provider cloud.Provider, task lifecycle.TaskHandle, name string, cloudConfig lifecycle.CloudConfig, appConfig lifecycle.AppConfig, processed lifecycle.ProcessedConfig) (*lifecycle.ProvisionResult, error) {
	var cfg internalConfig
	if err := processed.Open(&cfg); err != nil {
		return nil, lifecycle.NewProvisioningError("processed config is unreadable", err)
	}

	meta := make(map[string]interface{})
	partial := func() *lifecycle.ProvisionResult {
		if len(meta) == 0 {
			return nil
		}
		return &lifecycle.ProvisionResult{CloudLaunch: meta}
	}

	task.ReportProgress("Creating key pair")
	keyPair, err := provider.GetOrCreateKeyPair(ctx, name+"-key")
	if err != nil {
		return nil, lifecycle.NewProvisioningError("failed to create key pair", err)
	}
	meta["keyPair"] = map[string]interface{}{
		"id":   keyPair.ID,
		"name": keyPair.Name,
	}

	task.ReportProgress("Launching instance")
	instance, err := provider.CreateInstance(ctx, cloud.CreateInstanceInput{
		Name:          name,
		ImageID:       cfg.Image,
		VMType:        cfg.Flavor,
		Zone:          cfg.Zone,
		KeyPairName:   keyPair.Name,
		UserData:      cfg.UserData,
		FirewallRules: cfg.Firewall,
	})
	if err != nil {
		return nil, lifecycle.NewProvisioningError("failed to create instance", err).
			WithPartial(partial())
	}
	meta["instance"] = map[string]interface{}{
		"id":   instance.ID,
		"name": instance.Name,
	}

	p.logger.Info().
		Str("deployment", name).
		Str("instance_id", instance.ID).
		Msg("Instance created, waiting for it to come up")

	if err := p.waitForInstance(ctx, provider, task, instance.ID); err != nil {
		return nil, lifecycle.NewProvisioningError("instance did not become ready", err).
			WithPartial(partial())
	}

	task.ReportProgress("Attaching public IP address")
	publicIP, err := provider.AttachPublicIP(ctx, instance.ID)
	if err != nil {
		return nil, lifecycle.NewProvisioningError("failed to attach public IP", err).
			WithPartial(partial())
	}
	meta["publicIP"] = publicIP

	task.ReportProgress(fmt.Sprintf("Instance %s ready at %s", instance.ID, publicIP))

	return &lifecycle.ProvisionResult{
		CloudLaunch: meta,
		Host: lifecycle.HostInfo{
			Address:    publicIP,
			PrivateKey: keyPair.Material,
			User:       cfg.User,
		},
	}, nil
}

// waitForInstance polls the instance state until it is running, with the
// poll interval doubling up to maxPollWait. A vanished or errored instance
// aborts the wait.
func (p *Plugin) waitForInstance(ctx context.Context, provider cloud.Provider, task lifecycle.TaskHandle, instanceID string) error {
	interval := p.pollInterval
	for {
		instance, err := provider.GetInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("failed to poll instance %s: %w", instanceID, err)
		}

		switch instance.State {
		case cloud.StateRunning:
			return nil
		case cloud.StateError:
			return fmt.Errorf("instance %s entered error state", instanceID)
		}

		task.ReportProgress(fmt.Sprintf("Waiting for instance %s (%s)", instanceID, instance.State))

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for instance %s aborted: %w", instanceID, ctx.Err())
		case <-time.After(interval):
		}

		if interval < p.maxPollWait {
			interval *= 2
			if interval > p.maxPollWait {
				interval = p.maxPollWait
			}
		}
	}
}
