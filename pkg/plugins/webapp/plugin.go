// Package webapp implements the simple web application plugin. It builds on
// the base VM plugin and additionally waits for the application's HTTP
// endpoint to come up after host configuration, records the application URL
// in the provisioning result, and probes the endpoint during health checks.
package webapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/cloudlift/cloudlift/pkg/cloud"
	"github.com/cloudlift/cloudlift/pkg/config"
	"github.com/cloudlift/cloudlift/pkg/lifecycle"
	"github.com/cloudlift/cloudlift/pkg/plugins/basevm"
)

// AppID is the application-type identifier under which the plugin registers.
const AppID = "web-app"

// SchemaName is the CUE schema for the web-app specific config keys.
const SchemaName = "webapp"

// Schema constrains the web-app additions on top of the base VM config.
const Schema = `
port:        (int & >0 & <65536) | *80
health_path: string | *"/"
`

// applicationURLKey is the cloudlaunch metadata key other systems read the
// endpoint from.
const applicationURLKey = "applicationURL"

// Plugin wraps the base VM plugin with HTTP readiness handling.
type Plugin struct {
	*basevm.Plugin

	schemas      *config.SchemaRegistry
	httpClient   *retryablehttp.Client
	logger       zerolog.Logger
	readyTimeout time.Duration
}

var _ lifecycle.AppPlugin = (*Plugin)(nil)

// Option customizes a Plugin.
type Option func(*Plugin)

// WithLogger sets the plugin logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Plugin) { p.logger = logger }
}

// WithHTTPClient substitutes the retrying HTTP client.
func WithHTTPClient(client *retryablehttp.Client) Option {
	return func(p *Plugin) { p.httpClient = client }
}

// WithReadyTimeout bounds how long ConfigureHost waits for the endpoint.
func WithReadyTimeout(timeout time.Duration) Option {
	return func(p *Plugin) { p.readyTimeout = timeout }
}

// New creates the web application plugin on top of an existing base VM
// plugin.
func New(base *basevm.Plugin, opts ...Option) (*Plugin, error) {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 10
	httpClient.RetryWaitMin = time.Second
	httpClient.RetryWaitMax = 15 * time.Second
	httpClient.Logger = nil

	p := &Plugin{
		Plugin:       base,
		schemas:      config.NewSchemaRegistry(),
		httpClient:   httpClient,
		logger:       zerolog.Nop(),
		readyTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.schemas.RegisterSchema(SchemaName, Schema); err != nil {
		return nil, fmt.Errorf("failed to register %s schema: %w", SchemaName, err)
	}
	return p, nil
}

// ProcessAppConfig validates the web-app keys on top of the base VM schema.
func (p *Plugin) ProcessAppConfig(provider cloud.Provider, name string, cloudConfig lifecycle.CloudConfig, appConfig lifecycle.AppConfig) (lifecycle.ProcessedConfig, error) {
	if err := p.schemas.Validate(SchemaName, map[string]interface{}(appConfig)); err != nil {
		verr := lifecycle.NewValidationError("web app config failed schema validation")
		var serr *config.SchemaError
		if errors.As(err, &serr) {
			for path, msg := range serr.Fields {
				verr = verr.WithField(path, msg)
			}
		}
		verr.Err = err
		return lifecycle.ProcessedConfig{}, verr
	}
	return p.Plugin.ProcessAppConfig(provider, name, cloudConfig, appConfig)
}

// ProvisionHost provisions the VM and records the application URL in the
// cloudlaunch metadata.
func (p *Plugin) ProvisionHost(ctx context.Context, provider cloud.Provider, task lifecycle.TaskHandle, name string, cloudConfig lifecycle.CloudConfig, appConfig lifecycle.AppConfig, processed lifecycle.ProcessedConfig) (*lifecycle.ProvisionResult, error) {
	result, err := p.Plugin.ProvisionHost(ctx, provider, task, name, cloudConfig, appConfig, processed)
	if err != nil {
		return nil, err
	}
	result.CloudLaunch[applicationURLKey] = applicationURL(result.Host.Address, appConfig)
	return result, nil
}

// ConfigureHost runs the base configuration and then waits for the
// application endpoint to answer. An endpoint that never comes up is a
// transient failure: the host is configured and a later retry may find the
// application started.
func (p *Plugin) ConfigureHost(ctx context.Context, task lifecycle.TaskHandle, hostConfig lifecycle.HostInfo, appConfig lifecycle.AppConfig) (lifecycle.ConfigResult, error) {
	result, err := p.Plugin.ConfigureHost(ctx, task, hostConfig, appConfig)
	if err != nil {
		return nil, err
	}

	url := applicationURL(hostConfig.Address, appConfig)
	task.ReportProgress(fmt.Sprintf("Waiting for application at %s", url))

	waitCtx, cancel := context.WithTimeout(ctx, p.readyTimeout)
	defer cancel()
	status, err := p.probe(waitCtx, url)
	if err != nil {
		return nil, lifecycle.NewTransientConfigurationError(
			fmt.Sprintf("application at %s did not become ready", url), err)
	}

	p.logger.Info().Str("url", url).Int("status", status).Msg("Application endpoint ready")

	result[applicationURLKey] = url
	return result, nil
}

// HealthCheck adds an endpoint probe to the base instance health report. A
// failing probe marks the application unreachable but is not an error.
func (p *Plugin) HealthCheck(ctx context.Context, provider cloud.Provider, deployment *lifecycle.Deployment) (lifecycle.HealthReport, error) {
	report, err := p.Plugin.HealthCheck(ctx, provider, deployment)
	if err != nil {
		return nil, err
	}
	if report.InstanceStatus() != lifecycle.InstanceRunning {
		return report, nil
	}

	url, ok := deployment.LaunchResult.CloudLaunch[applicationURLKey].(string)
	if !ok || url == "" {
		return report, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	status, err := p.probeOnce(probeCtx, url)
	if err != nil {
		report["application_reachable"] = false
		return report, nil
	}
	report["application_reachable"] = status < http.StatusInternalServerError
	report["application_status"] = status
	return report, nil
}

// probe issues a retrying GET until the endpoint answers without a server
// error or the context expires.
func (p *Plugin) probe(ctx context.Context, url string) (int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// probeOnce issues a single non-retrying GET for health checks.
func (p *Plugin) probeOnce(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.httpClient.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// applicationURL builds the endpoint URL from the host address and the
// port/health_path config keys.
func applicationURL(address string, appConfig lifecycle.AppConfig) string {
	port := 80
	switch n := appConfig["port"].(type) {
	case int:
		port = n
	case int64:
		port = int(n)
	case float64:
		port = int(n)
	}
	path, _ := appConfig["health_path"].(string)
	if path == "" {
		path = "/"
	}
	scheme := "http"
	if port == 443 {
		scheme = "https"
	}
	if port == 80 || port == 443 {
		return fmt.Sprintf("%s://%s%s", scheme, address, path)
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, address, port, path)
}
