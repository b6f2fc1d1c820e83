package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudlift/cloudlift/pkg/cloud"
	"github.com/cloudlift/cloudlift/pkg/telemetry"
)

// Store is the persistence boundary for deployments. The Controller is the
// only writer of launch_status; a Store implementation must persist exactly
// what it is handed.
type Store interface {
	// CreateDeployment persists a new deployment record.
	CreateDeployment(ctx context.Context, d *Deployment) error

	// GetDeployment retrieves a deployment by ID.
	GetDeployment(ctx context.Context, id string) (*Deployment, error)

	// UpdateDeployment persists changes to an existing deployment.
	UpdateDeployment(ctx context.Context, d *Deployment) error

	// ListDeployments returns all deployments, newest first.
	ListDeployments(ctx context.Context) ([]*Deployment, error)

	// AppendEvent appends one entry to a deployment's event log.
	AppendEvent(ctx context.Context, ev DeploymentEvent) error

	// ListEvents returns a deployment's event log in chronological order.
	ListEvents(ctx context.Context, deploymentID string) ([]DeploymentEvent, error)
}

// LaunchGate authorizes launch requests before any infrastructure is touched.
// Implementations receive only the sanitized configuration, never raw
// secrets.
type LaunchGate interface {
	AuthorizeLaunch(ctx context.Context, name, appID string, cloudConfig CloudConfig, sanitized RedactedConfig) error
}

// LaunchRequest describes one deployment launch.
type LaunchRequest struct {
	// ID is the deployment identity. Generated when empty.
	ID string

	// Name is the user-visible deployment name.
	Name string

	// AppID selects the application plugin.
	AppID string

	// CloudConfig describes the target infrastructure.
	CloudConfig CloudConfig

	// AppConfig is the merged application configuration.
	AppConfig AppConfig
}

// ControllerOptions configures a Controller. Registry, Store, and Provider
// are required; the rest default to no-op collaborators.
type ControllerOptions struct {
	Registry *Registry
	Store    Store
	Provider cloud.Provider

	// Gate, when set, authorizes every launch before validation completes.
	Gate LaunchGate

	Logger    *telemetry.Logger
	Metrics   *telemetry.Metrics
	Tracer    *telemetry.Tracer
	Publisher *telemetry.EventPublisher

	// ProgressBufferSize bounds the in-flight progress event queue.
	ProgressBufferSize int

	// ProvisionTimeout bounds one provisioning attempt. Zero means no limit;
	// a hit timeout surfaces as the stage's error and fails the launch.
	ProvisionTimeout time.Duration

	// ConfigureTimeout bounds one host configuration attempt.
	ConfigureTimeout time.Duration
}

// Controller drives deployments through the lifecycle state machine. It owns
// all launch_status writes, serializes mutations per deployment with an
// exclusive lock, and runs health checks under a shared lock.
type Controller struct {
	registry *Registry
	store    Store
	provider cloud.Provider
	gate     LaunchGate

	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	publisher *telemetry.EventPublisher

	provisionTimeout time.Duration
	configureTimeout time.Duration

	progress chan DeploymentEvent
	drained  chan struct{}

	mu    sync.Mutex
	locks map[string]*sync.RWMutex

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewController creates a new Controller.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = telemetry.NewLogger(telemetry.LoggingConfig{Level: "info", Format: "console", Output: "stderr"})
		if err != nil {
			return nil, err
		}
	}
	metrics := opts.Metrics
	if metrics == nil {
		var err error
		metrics, err = telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
		if err != nil {
			return nil, err
		}
	}
	tracer := opts.Tracer
	if tracer == nil {
		var err error
		tracer, err = telemetry.NewTracer(telemetry.TracingConfig{Enabled: false}, "cloudlift", "dev", "dev")
		if err != nil {
			return nil, err
		}
	}

	bufSize := opts.ProgressBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	c := &Controller{
		registry:  opts.Registry,
		store:     opts.Store,
		provider:  opts.Provider,
		gate:      opts.Gate,
		logger:    logger.NewComponentLogger("controller"),
		metrics:   metrics,
		tracer:    tracer,
		publisher: opts.Publisher,

		provisionTimeout: opts.ProvisionTimeout,
		configureTimeout: opts.ConfigureTimeout,

		progress:  make(chan DeploymentEvent, bufSize),
		drained:   make(chan struct{}),
		locks:     make(map[string]*sync.RWMutex),
	}

	go c.drainProgress()

	return c, nil
}

// lock returns the per-deployment mutex, creating it on first use. Lock
// entries are retained for the controller's lifetime; deployment counts are
// small enough that reclamation is not worth the bookkeeping.
func (c *Controller) lock(deploymentID string) *sync.RWMutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lk, ok := c.locks[deploymentID]
	if !ok {
		lk = &sync.RWMutex{}
		c.locks[deploymentID] = lk
	}
	return lk
}

// drainProgress persists plugin progress reports and forwards them to the
// event publisher. It exits when the progress channel is closed.
func (c *Controller) drainProgress() {
	defer close(c.drained)
	for ev := range c.progress {
		if err := c.store.AppendEvent(context.Background(), ev); err != nil {
			c.logger.WithDeploymentID(ev.DeploymentID).WithError(err).Warn("failed to persist progress event")
		}
		if c.publisher != nil {
			_ = c.publisher.PublishStageProgress(ev.DeploymentID, ev.Stage, ev.Message)
		}
		c.logger.WithDeploymentID(ev.DeploymentID).WithStage(ev.Stage).Debug(ev.Message)
	}
}

// setStatus transitions a deployment and persists the change. It is the only
// place launch_status is written. The caller must hold the deployment's
// exclusive lock.
func (c *Controller) setStatus(ctx context.Context, d *Deployment, target LaunchStatus) error {
	if !d.LaunchStatus.CanTransition(target) {
		return fmt.Errorf("invalid transition from %s to %s for deployment %s", d.LaunchStatus, target, d.ID)
	}
	old := d.LaunchStatus
	d.LaunchStatus = target
	d.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateDeployment(ctx, d); err != nil {
		d.LaunchStatus = old
		return fmt.Errorf("failed to persist status %s: %w", target, err)
	}
	if c.publisher != nil {
		_ = c.publisher.PublishStatusChanged(d.ID, string(old), string(target))
	}
	c.logger.WithDeploymentID(d.ID).
		WithField("from", string(old)).
		WithField("to", string(target)).
		Info("deployment status changed")
	return nil
}

// failLaunch moves a deployment into the error state, recording the failure
// payload and retaining whatever partial result is already attached.
func (c *Controller) failLaunch(ctx context.Context, d *Deployment, stage string, cause error) {
	d.LaunchError = cause.Error()
	if err := c.setStatus(ctx, d, StatusError); err != nil {
		c.logger.WithDeploymentID(d.ID).WithError(err).Error("failed to record launch error state")
	}
	if c.publisher != nil {
		_ = c.publisher.PublishLaunchFailed(d.ID, d.AppID, stage, cause.Error())
	}
	c.metrics.RecordLaunchCompleted(d.AppID, string(StatusError))
	c.logger.WithDeploymentID(d.ID).WithStage(stage).WithError(cause).Error("launch failed")
}

// Launch validates a deployment request and, on success, starts the
// provisioning pipeline in the background. Validation failures are returned
// synchronously; the caller observes later progress through the deployment
// record and its event log.
func (c *Controller) Launch(ctx context.Context, req LaunchRequest) (*Deployment, error) {
	plugin, err := c.registry.Get(req.AppID)
	if err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, NewValidationError("deployment name is required")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	d := &Deployment{
		ID:           req.ID,
		Name:         req.Name,
		AppID:        req.AppID,
		LaunchStatus: StatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.store.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create deployment record: %w", err)
	}

	lk := c.lock(d.ID)
	lk.Lock()
	defer lk.Unlock()

	ctx, span := c.tracer.StartStageSpan(ctx, d.ID, string(StatusValidating))
	defer span.End()

	if err := c.setStatus(ctx, d, StatusValidating); err != nil {
		return nil, err
	}

	sanitized, err := plugin.SanitiseAppConfig(req.AppConfig)
	c.metrics.RecordPluginCall(req.AppID, "sanitise_app_config", err)
	if err != nil {
		telemetry.RecordError(span, err)
		c.failLaunch(ctx, d, string(StatusValidating), err)
		return d, err
	}
	c.logger.WithDeploymentID(d.ID).WithAppID(d.AppID).
		WithField("config", map[string]interface{}(sanitized)).
		Info("launch requested")

	if c.gate != nil {
		if err := c.gate.AuthorizeLaunch(ctx, req.Name, req.AppID, req.CloudConfig, sanitized); err != nil {
			telemetry.RecordError(span, err)
			if c.publisher != nil {
				_ = c.publisher.PublishPolicyViolation(d.ID, d.AppID, err.Error())
			}
			c.failLaunch(ctx, d, string(StatusValidating), err)
			return d, err
		}
	}

	processed, err := plugin.ProcessAppConfig(c.provider, req.Name, req.CloudConfig, req.AppConfig)
	c.metrics.RecordPluginCall(req.AppID, "process_app_config", err)
	if err != nil {
		telemetry.RecordError(span, err)
		c.failLaunch(ctx, d, string(StatusValidating), err)
		return d, err
	}
	telemetry.RecordSuccess(span)

	c.metrics.RecordLaunchStarted(req.AppID)
	if c.publisher != nil {
		_ = c.publisher.PublishLaunchStarted(d.ID, d.AppID, d.Name)
	}

	// The request context ends with the caller; the launch pipeline runs on
	// its own context and is joined through Wait.
	c.wg.Add(1)
	go c.runLaunch(context.Background(), *d, plugin, req, processed, now)

	snapshot := *d
	return &snapshot, nil
}

// runLaunch drives provisioning and configuration for one deployment. It
// holds the deployment's exclusive lock for the duration.
func (c *Controller) runLaunch(ctx context.Context, snapshot Deployment, plugin AppPlugin, req LaunchRequest, processed ProcessedConfig, started time.Time) {
	defer c.wg.Done()

	lk := c.lock(snapshot.ID)
	lk.Lock()
	defer lk.Unlock()

	d, err := c.store.GetDeployment(ctx, snapshot.ID)
	if err != nil {
		c.logger.WithDeploymentID(snapshot.ID).WithError(err).Error("failed to reload deployment")
		c.metrics.RecordLaunchCompleted(snapshot.AppID, string(StatusError))
		return
	}
	// A delete issued between validation and here wins.
	if d.LaunchStatus != StatusValidating {
		c.logger.WithDeploymentID(d.ID).
			WithField("status", string(d.LaunchStatus)).
			Warn("launch aborted, deployment no longer validating")
		c.metrics.RecordLaunchCompleted(d.AppID, string(d.LaunchStatus))
		return
	}

	ctx, launchSpan := c.tracer.StartLaunchSpan(ctx, d.ID, d.AppID)
	defer launchSpan.End()

	if err := c.setStatus(ctx, d, StatusProvisioning); err != nil {
		c.logger.WithDeploymentID(d.ID).WithError(err).Error("failed to enter provisioning")
		c.metrics.RecordLaunchCompleted(d.AppID, string(d.LaunchStatus))
		return
	}

	task := NewProgressSink(d.ID, string(StatusProvisioning), c.progress)

	provCtx, provSpan := c.tracer.StartStageSpan(ctx, d.ID, string(StatusProvisioning))
	provCtx, cancelProvision := stageContext(provCtx, c.provisionTimeout)
	stageStart := time.Now()
	result, err := plugin.ProvisionHost(provCtx, c.provider, task, req.Name, req.CloudConfig, req.AppConfig, processed)
	cancelProvision()
	c.metrics.RecordStageDuration(string(StatusProvisioning), time.Since(stageStart))
	c.metrics.RecordPluginCall(d.AppID, "provision_host", err)
	if err != nil {
		telemetry.RecordError(provSpan, err)
		provSpan.End()
		// Partially created resources are retained for operator cleanup,
		// never rolled back.
		if partial := PartialResult(err); partial != nil {
			d.LaunchResult = partial
		}
		c.failLaunch(ctx, d, string(StatusProvisioning), err)
		telemetry.RecordError(launchSpan, err)
		return
	}
	telemetry.RecordSuccess(provSpan)
	provSpan.End()

	d.LaunchResult = result
	if err := c.setStatus(ctx, d, StatusConfiguring); err != nil {
		c.logger.WithDeploymentID(d.ID).WithError(err).Error("failed to enter configuring")
		c.metrics.RecordLaunchCompleted(d.AppID, string(d.LaunchStatus))
		return
	}

	confCtx, confSpan := c.tracer.StartStageSpan(ctx, d.ID, string(StatusConfiguring))
	confCtx, cancelConfigure := stageContext(confCtx, c.configureTimeout)
	stageStart = time.Now()
	_, err = plugin.ConfigureHost(confCtx, task.WithStage(string(StatusConfiguring)), result.Host, req.AppConfig)
	cancelConfigure()
	c.metrics.RecordStageDuration(string(StatusConfiguring), time.Since(stageStart))
	c.metrics.RecordPluginCall(d.AppID, "configure_host", err)
	if err != nil {
		telemetry.RecordError(confSpan, err)
		confSpan.End()
		// The host stays in launch_result so the failure can be diagnosed
		// and the resources reclaimed by an explicit delete.
		c.failLaunch(ctx, d, string(StatusConfiguring), err)
		telemetry.RecordError(launchSpan, err)
		return
	}
	telemetry.RecordSuccess(confSpan)
	confSpan.End()

	if err := c.setStatus(ctx, d, StatusHealthy); err != nil {
		c.logger.WithDeploymentID(d.ID).WithError(err).Error("failed to enter healthy")
		c.metrics.RecordLaunchCompleted(d.AppID, string(d.LaunchStatus))
		return
	}
	telemetry.RecordSuccess(launchSpan)
	c.metrics.RecordLaunchCompleted(d.AppID, string(StatusHealthy))
	if c.publisher != nil {
		_ = c.publisher.PublishLaunchCompleted(d.ID, d.AppID, string(StatusHealthy), time.Since(started))
	}
	c.logger.WithDeploymentID(d.ID).WithAppID(d.AppID).Info("deployment healthy")
}

// stageContext bounds a stage with the configured timeout, if any.
func stageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// HealthCheck runs the plugin's health check under a shared lock, so checks
// never block each other, then applies any resulting status flip under the
// exclusive lock.
func (c *Controller) HealthCheck(ctx context.Context, deploymentID string) (HealthReport, error) {
	lk := c.lock(deploymentID)

	lk.RLock()
	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		lk.RUnlock()
		return nil, err
	}
	if d.LaunchStatus == StatusDeleted {
		lk.RUnlock()
		return NewHealthReport(InstanceDeleted), nil
	}
	if d.LaunchStatus.IsLaunching() {
		lk.RUnlock()
		return nil, fmt.Errorf("deployment %s is still launching (%s)", deploymentID, d.LaunchStatus)
	}
	plugin, err := c.registry.Get(d.AppID)
	if err != nil {
		lk.RUnlock()
		return nil, err
	}
	spanCtx, span := c.tracer.StartPluginSpan(ctx, d.AppID, "health_check")
	report, err := plugin.HealthCheck(spanCtx, c.provider, d)
	lk.RUnlock()
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	span.End()
	c.metrics.RecordPluginCall(d.AppID, "health_check", err)
	if err != nil {
		return nil, fmt.Errorf("health check failed for deployment %s: %w", deploymentID, err)
	}
	c.metrics.RecordHealthCheck(string(report.InstanceStatus()))

	if err := c.applyHealth(ctx, deploymentID, report); err != nil {
		return report, err
	}
	return report, nil
}

// applyHealth flips healthy/unhealthy and confirms deletion based on a fresh
// health report.
func (c *Controller) applyHealth(ctx context.Context, deploymentID string, report HealthReport) error {
	lk := c.lock(deploymentID)
	lk.Lock()
	defer lk.Unlock()

	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}

	status := report.InstanceStatus()
	switch d.LaunchStatus {
	case StatusHealthy:
		if status != InstanceRunning {
			return c.setStatus(ctx, d, StatusUnhealthy)
		}
	case StatusUnhealthy:
		if status == InstanceRunning {
			return c.setStatus(ctx, d, StatusHealthy)
		}
	case StatusDeleting:
		if status == InstanceDeleted {
			if err := c.setStatus(ctx, d, StatusDeleted); err != nil {
				return err
			}
			if c.publisher != nil {
				_ = c.publisher.Publish(telemetry.Event{
					Type:         telemetry.EventTypeDeploymentDeleted,
					Source:       "controller",
					DeploymentID: d.ID,
					AppID:        d.AppID,
					Message:      "deployment resources confirmed deleted",
					Level:        telemetry.EventLevelInfo,
				})
			}
		}
	}
	return nil
}

// Restart asks the plugin to restart the appliance and, when the restart is
// accepted, reconciles the deployment's health. It returns whether the
// restart was accepted.
func (c *Controller) Restart(ctx context.Context, deploymentID string) (bool, error) {
	lk := c.lock(deploymentID)
	lk.Lock()
	defer lk.Unlock()

	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return false, err
	}
	if d.LaunchStatus != StatusHealthy && d.LaunchStatus != StatusUnhealthy {
		return false, fmt.Errorf("deployment %s cannot be restarted from status %s", deploymentID, d.LaunchStatus)
	}
	plugin, err := c.registry.Get(d.AppID)
	if err != nil {
		return false, err
	}

	ok, err := plugin.Restart(ctx, c.provider, d)
	c.metrics.RecordPluginCall(d.AppID, "restart", err)
	if err != nil {
		return false, fmt.Errorf("restart failed for deployment %s: %w", deploymentID, err)
	}
	if !ok {
		return false, nil
	}

	report, err := plugin.HealthCheck(ctx, c.provider, d)
	c.metrics.RecordPluginCall(d.AppID, "health_check", err)
	if err != nil {
		c.logger.WithDeploymentID(d.ID).WithError(err).Warn("post-restart health check failed")
		return true, nil
	}
	c.metrics.RecordHealthCheck(string(report.InstanceStatus()))
	if report.InstanceStatus() == InstanceRunning && d.LaunchStatus == StatusUnhealthy {
		if err := c.setStatus(ctx, d, StatusHealthy); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Delete requests removal of a deployment's cloud resources. It returns true
// only once the provider has confirmed everything is gone; until then the
// deployment stays in the deleting state and Delete may be retried. Deleting
// an already deleted deployment returns true.
func (c *Controller) Delete(ctx context.Context, deploymentID string) (bool, error) {
	lk := c.lock(deploymentID)
	lk.Lock()
	defer lk.Unlock()

	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return false, err
	}
	if d.LaunchStatus == StatusDeleted {
		return true, nil
	}
	plugin, err := c.registry.Get(d.AppID)
	if err != nil {
		return false, err
	}

	if d.LaunchStatus != StatusDeleting {
		if err := c.setStatus(ctx, d, StatusDeleting); err != nil {
			return false, err
		}
	}

	ok, err := plugin.Delete(ctx, c.provider, d)
	c.metrics.RecordPluginCall(d.AppID, "delete", err)
	if err != nil {
		return false, fmt.Errorf("delete failed for deployment %s: %w", deploymentID, err)
	}
	if !ok {
		return false, nil
	}

	// The deleted state is entered only on positive confirmation that the
	// provider no longer knows the resources.
	report, err := plugin.HealthCheck(ctx, c.provider, d)
	c.metrics.RecordPluginCall(d.AppID, "health_check", err)
	if err != nil {
		return false, fmt.Errorf("post-delete health check failed for deployment %s: %w", deploymentID, err)
	}
	c.metrics.RecordHealthCheck(string(report.InstanceStatus()))
	if report.InstanceStatus() != InstanceDeleted {
		c.logger.WithDeploymentID(d.ID).
			WithField("instance_status", string(report.InstanceStatus())).
			Warn("delete issued but resources still present")
		return false, nil
	}

	if err := c.setStatus(ctx, d, StatusDeleted); err != nil {
		return false, err
	}
	if c.publisher != nil {
		_ = c.publisher.Publish(telemetry.Event{
			Type:         telemetry.EventTypeDeploymentDeleted,
			Source:       "controller",
			DeploymentID: d.ID,
			AppID:        d.AppID,
			Message:      "deployment resources confirmed deleted",
			Level:        telemetry.EventLevelInfo,
		})
	}
	return true, nil
}

// Get returns the deployment record.
func (c *Controller) Get(ctx context.Context, deploymentID string) (*Deployment, error) {
	return c.store.GetDeployment(ctx, deploymentID)
}

// List returns all deployment records.
func (c *Controller) List(ctx context.Context) ([]*Deployment, error) {
	return c.store.ListDeployments(ctx)
}

// Events returns a deployment's progress log.
func (c *Controller) Events(ctx context.Context, deploymentID string) ([]DeploymentEvent, error) {
	return c.store.ListEvents(ctx, deploymentID)
}

// Wait blocks until all in-flight launches have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close waits for in-flight launches, then stops the progress drain after it
// has persisted everything buffered.
func (c *Controller) Close() {
	c.wg.Wait()
	c.closeOnce.Do(func() {
		close(c.progress)
	})
	<-c.drained
}
