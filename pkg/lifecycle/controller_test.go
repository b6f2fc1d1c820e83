package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudlift/cloudlift/pkg/cloud"
)

// In-memory store for testing
type memStore struct {
	mu          sync.Mutex
	deployments map[string]*Deployment
	events      []DeploymentEvent
}

func newMemStore() *memStore {
	return &memStore{deployments: make(map[string]*Deployment)}
}

func (s *memStore) CreateDeployment(_ context.Context, d *Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deployments[d.ID]; exists {
		return fmt.Errorf("deployment %s already exists", d.ID)
	}
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *memStore) GetDeployment(_ context.Context, id string) (*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, fmt.Errorf("deployment %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) UpdateDeployment(_ context.Context, d *Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[d.ID]; !ok {
		return fmt.Errorf("deployment %s not found", d.ID)
	}
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *memStore) ListDeployments(_ context.Context) ([]*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) AppendEvent(_ context.Context, ev DeploymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) ListEvents(_ context.Context, deploymentID string) ([]DeploymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DeploymentEvent
	for _, ev := range s.events {
		if ev.DeploymentID == deploymentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Mock plugin for testing
type mockPlugin struct {
	mu    sync.Mutex
	calls []string

	processErr    error
	provisionErr  error
	provisionHang bool
	configureErr  error
	healthStatus  InstanceStatus
	healthErr     error
	restartOK     bool
	restartErr    error
	deleteOK      bool
	deleteErr     error
}

func newMockPlugin() *mockPlugin {
	return &mockPlugin{
		healthStatus: InstanceRunning,
		restartOK:    true,
		deleteOK:     true,
	}
}

func (m *mockPlugin) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockPlugin) callCount(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *mockPlugin) ProcessAppConfig(_ cloud.Provider, name string, _ CloudConfig, appConfig AppConfig) (ProcessedConfig, error) {
	m.record("process")
	if m.processErr != nil {
		return ProcessedConfig{}, m.processErr
	}
	return Seal(map[string]interface{}{"name": name, "config": map[string]interface{}(appConfig)})
}

func (m *mockPlugin) SanitiseAppConfig(appConfig AppConfig) (RedactedConfig, error) {
	m.record("sanitise")
	out := make(RedactedConfig, len(appConfig))
	for k, v := range appConfig {
		if k == "password" {
			out[k] = "********"
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (m *mockPlugin) ProvisionHost(ctx context.Context, _ cloud.Provider, task TaskHandle, name string, _ CloudConfig, _ AppConfig, processed ProcessedConfig) (*ProvisionResult, error) {
	m.record("provision")
	if processed.IsZero() {
		return nil, NewProvisioningError("processed config missing", nil)
	}
	task.ReportProgress("creating instance")
	if m.provisionHang {
		<-ctx.Done()
		return nil, NewProvisioningError("provisioning aborted", ctx.Err())
	}
	if m.provisionErr != nil {
		return nil, m.provisionErr
	}
	task.ReportProgress("instance ready")
	return &ProvisionResult{
		CloudLaunch: map[string]interface{}{
			"instance": map[string]interface{}{"id": "i-0001"},
			"keyPair":  map[string]interface{}{"id": "kp-0001"},
		},
		Host: HostInfo{Address: "198.51.100.10", PrivateKey: "secret", User: "ubuntu"},
	}, nil
}

func (m *mockPlugin) ConfigureHost(_ context.Context, task TaskHandle, hostConfig HostInfo, _ AppConfig) (ConfigResult, error) {
	m.record("configure")
	task.ReportProgress("configuring " + hostConfig.Address)
	if m.configureErr != nil {
		return nil, m.configureErr
	}
	return ConfigResult{"configured": true}, nil
}

func (m *mockPlugin) HealthCheck(_ context.Context, _ cloud.Provider, d *Deployment) (HealthReport, error) {
	m.record("health")
	if m.healthErr != nil {
		return nil, m.healthErr
	}
	if d.LaunchResult.InstanceID() == "" {
		// Nothing was ever provisioned, so nothing remains at the provider.
		return NewHealthReport(InstanceDeleted), nil
	}
	m.mu.Lock()
	status := m.healthStatus
	m.mu.Unlock()
	return NewHealthReport(status), nil
}

func (m *mockPlugin) Restart(_ context.Context, _ cloud.Provider, _ *Deployment) (bool, error) {
	m.record("restart")
	return m.restartOK, m.restartErr
}

func (m *mockPlugin) Delete(_ context.Context, _ cloud.Provider, _ *Deployment) (bool, error) {
	m.record("delete")
	return m.deleteOK, m.deleteErr
}

func (m *mockPlugin) setHealthStatus(s InstanceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthStatus = s
}

type rejectAllGate struct{}

func (rejectAllGate) AuthorizeLaunch(_ context.Context, _, _ string, _ CloudConfig, _ RedactedConfig) error {
	return fmt.Errorf("launch denied")
}

func newTestController(t *testing.T, plugin AppPlugin, gate LaunchGate) (*Controller, *memStore) {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register("test-app", plugin); err != nil {
		t.Fatalf("failed to register plugin: %v", err)
	}
	registry.Freeze()

	store := newMemStore()
	c, err := NewController(ControllerOptions{
		Registry: registry,
		Store:    store,
		Provider: cloud.NewFake(),
		Gate:     gate,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return c, store
}

func launchRequest() LaunchRequest {
	return LaunchRequest{
		Name:        "demo",
		AppID:       "test-app",
		CloudConfig: CloudConfig{"region": "fra1"},
		AppConfig:   AppConfig{"flavor": "small", "password": "hunter2"},
	}
}

func TestLaunchHappyPath(t *testing.T) {
	plugin := newMockPlugin()
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	c.Wait()

	got, err := c.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LaunchStatus != StatusHealthy {
		t.Errorf("expected status healthy, got %s", got.LaunchStatus)
	}
	if got.LaunchResult == nil {
		t.Fatal("expected launch result to be recorded")
	}
	if got.LaunchResult.Host.Address != "198.51.100.10" {
		t.Errorf("unexpected host address: %s", got.LaunchResult.Host.Address)
	}
	if got.LaunchResult.InstanceID() != "i-0001" {
		t.Errorf("unexpected instance ID: %s", got.LaunchResult.InstanceID())
	}
	for _, call := range []string{"sanitise", "process", "provision", "configure"} {
		if plugin.callCount(call) != 1 {
			t.Errorf("expected exactly one %s call, got %d", call, plugin.callCount(call))
		}
	}
}

func TestLaunchValidationFailure(t *testing.T) {
	plugin := newMockPlugin()
	plugin.processErr = NewValidationError("flavor unknown").WithField("flavor", "must be one of small, large")
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err == nil {
		t.Fatal("expected launch to fail validation")
	}
	if !IsValidation(err) {
		t.Errorf("expected a validation error, got %T", err)
	}
	c.Wait()

	got, _ := c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusError {
		t.Errorf("expected status error, got %s", got.LaunchStatus)
	}
	if got.LaunchError == "" {
		t.Error("expected launch error payload to be recorded")
	}
	if plugin.callCount("provision") != 0 {
		t.Error("provisioning must not run after validation failure")
	}
}

func TestLaunchUnknownPlugin(t *testing.T) {
	c, _ := newTestController(t, newMockPlugin(), nil)

	req := launchRequest()
	req.AppID = "nope"
	_, err := c.Launch(context.Background(), req)
	if err == nil {
		t.Fatal("expected launch to fail")
	}
	if !IsPluginNotFound(err) {
		t.Errorf("expected plugin not found error, got %v", err)
	}
}

func TestLaunchGateRejection(t *testing.T) {
	plugin := newMockPlugin()
	c, _ := newTestController(t, plugin, rejectAllGate{})

	d, err := c.Launch(context.Background(), launchRequest())
	if err == nil {
		t.Fatal("expected launch to be denied")
	}
	c.Wait()

	got, _ := c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusError {
		t.Errorf("expected status error, got %s", got.LaunchStatus)
	}
	if plugin.callCount("process") != 0 {
		t.Error("processing must not run after a policy rejection")
	}
}

func TestLaunchProvisioningFailureRetainsPartialResult(t *testing.T) {
	plugin := newMockPlugin()
	partial := &ProvisionResult{
		CloudLaunch: map[string]interface{}{
			"keyPair": map[string]interface{}{"id": "kp-0001"},
		},
	}
	plugin.provisionErr = NewProvisioningError("quota exceeded", nil).WithPartial(partial)
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed synchronously: %v", err)
	}
	c.Wait()

	got, _ := c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusError {
		t.Fatalf("expected status error, got %s", got.LaunchStatus)
	}
	if got.LaunchResult == nil {
		t.Fatal("expected partial provisioning result to be retained")
	}
	if _, ok := got.LaunchResult.CloudLaunch["keyPair"]; !ok {
		t.Error("expected key pair to be attributed in the partial result")
	}
	if plugin.callCount("configure") != 0 {
		t.Error("configuration must not run after provisioning failure")
	}
	if plugin.callCount("delete") != 0 {
		t.Error("partial resources must never be auto-deleted")
	}
}

func TestLaunchConfigureFailureRetainsHost(t *testing.T) {
	plugin := newMockPlugin()
	plugin.configureErr = NewConfigurationError("ssh handshake failed", nil)
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed synchronously: %v", err)
	}
	c.Wait()

	got, _ := c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusError {
		t.Fatalf("expected status error, got %s", got.LaunchStatus)
	}
	if got.LaunchResult == nil || got.LaunchResult.Host.Address == "" {
		t.Error("expected the provisioned host to remain recorded for diagnosis")
	}
}

func TestHealthCheckFlipsHealthyAndBack(t *testing.T) {
	plugin := newMockPlugin()
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	c.Wait()

	plugin.setHealthStatus(InstanceStopped)
	report, err := c.HealthCheck(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if report.InstanceStatus() != InstanceStopped {
		t.Errorf("unexpected instance status: %s", report.InstanceStatus())
	}
	got, _ := c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", got.LaunchStatus)
	}

	plugin.setHealthStatus(InstanceRunning)
	if _, err := c.HealthCheck(context.Background(), d.ID); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	got, _ = c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusHealthy {
		t.Errorf("expected status healthy, got %s", got.LaunchStatus)
	}
}

func TestHealthCheckRejectedWhileLaunching(t *testing.T) {
	plugin := newMockPlugin()
	c, store := newTestController(t, plugin, nil)

	d := &Deployment{ID: "dep-1", Name: "demo", AppID: "test-app", LaunchStatus: StatusProvisioning}
	if err := store.CreateDeployment(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	if _, err := c.HealthCheck(context.Background(), d.ID); err == nil {
		t.Error("expected health check to be rejected while launching")
	}
}

func TestHealthCheckOnDeletedDeployment(t *testing.T) {
	plugin := newMockPlugin()
	c, store := newTestController(t, plugin, nil)

	d := &Deployment{ID: "dep-1", Name: "demo", AppID: "test-app", LaunchStatus: StatusDeleted}
	if err := store.CreateDeployment(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	report, err := c.HealthCheck(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if report.InstanceStatus() != InstanceDeleted {
		t.Errorf("expected instance status deleted, got %s", report.InstanceStatus())
	}
	if plugin.callCount("health") != 0 {
		t.Error("plugin must not be consulted for a deleted deployment")
	}
}

func TestDeleteConfirmsAndIsIdempotent(t *testing.T) {
	plugin := newMockPlugin()
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	c.Wait()

	plugin.setHealthStatus(InstanceDeleted)
	ok, err := c.Delete(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !ok {
		t.Fatal("expected delete to be confirmed")
	}
	got, _ := c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusDeleted {
		t.Errorf("expected status deleted, got %s", got.LaunchStatus)
	}

	deleteCalls := plugin.callCount("delete")
	ok, err = c.Delete(context.Background(), d.ID)
	if err != nil || !ok {
		t.Fatalf("expected repeated delete to succeed, got ok=%v err=%v", ok, err)
	}
	if plugin.callCount("delete") != deleteCalls {
		t.Error("plugin delete must not run again for an already deleted deployment")
	}
}

func TestDeleteRemainsDeletingUntilConfirmed(t *testing.T) {
	plugin := newMockPlugin()
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	c.Wait()

	// Provider still reports the instance after the delete request.
	ok, err := c.Delete(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if ok {
		t.Fatal("delete must not report success while resources remain")
	}
	got, _ := c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusDeleting {
		t.Errorf("expected status deleting, got %s", got.LaunchStatus)
	}

	plugin.setHealthStatus(InstanceDeleted)
	ok, err = c.Delete(context.Background(), d.ID)
	if err != nil || !ok {
		t.Fatalf("expected retried delete to succeed, got ok=%v err=%v", ok, err)
	}
	got, _ = c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusDeleted {
		t.Errorf("expected status deleted, got %s", got.LaunchStatus)
	}
}

func TestDeleteFromErrorState(t *testing.T) {
	plugin := newMockPlugin()
	plugin.configureErr = NewConfigurationError("boom", nil)
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed synchronously: %v", err)
	}
	c.Wait()

	plugin.setHealthStatus(InstanceDeleted)
	ok, err := c.Delete(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !ok {
		t.Error("expected delete from error state to succeed")
	}
}

func TestRestartReconcilesHealth(t *testing.T) {
	plugin := newMockPlugin()
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	c.Wait()

	plugin.setHealthStatus(InstanceStopped)
	if _, err := c.HealthCheck(context.Background(), d.ID); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	plugin.setHealthStatus(InstanceRunning)
	ok, err := c.Restart(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if !ok {
		t.Fatal("expected restart to be accepted")
	}
	got, _ := c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusHealthy {
		t.Errorf("expected status healthy after restart, got %s", got.LaunchStatus)
	}
}

func TestRestartRejectedWhileLaunching(t *testing.T) {
	plugin := newMockPlugin()
	c, store := newTestController(t, plugin, nil)

	d := &Deployment{ID: "dep-1", Name: "demo", AppID: "test-app", LaunchStatus: StatusValidating}
	if err := store.CreateDeployment(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Restart(context.Background(), d.ID); err == nil {
		t.Error("expected restart to be rejected while launching")
	}
}

func TestProgressEventsPersisted(t *testing.T) {
	plugin := newMockPlugin()
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	c.Close()

	events, err := c.Events(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("listing events failed: %v", err)
	}
	if len(events) < 3 {
		t.Fatalf("expected at least three progress events, got %d", len(events))
	}
	stages := make(map[string]bool)
	for _, ev := range events {
		stages[ev.Stage] = true
		if ev.DeploymentID != d.ID {
			t.Errorf("event attributed to wrong deployment: %s", ev.DeploymentID)
		}
	}
	if !stages["provisioning"] || !stages["configuring"] {
		t.Errorf("expected events from both stages, got %v", stages)
	}
}

func TestConcurrentLaunches(t *testing.T) {
	plugin := newMockPlugin()
	c, _ := newTestController(t, plugin, nil)

	const n = 8
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		req := launchRequest()
		req.Name = fmt.Sprintf("demo-%d", i)
		d, err := c.Launch(context.Background(), req)
		if err != nil {
			t.Fatalf("launch %d failed: %v", i, err)
		}
		ids[i] = d.ID
	}
	c.Wait()

	for _, id := range ids {
		got, err := c.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.LaunchStatus != StatusHealthy {
			t.Errorf("deployment %s: expected healthy, got %s", id, got.LaunchStatus)
		}
	}
}

func TestProvisionTimeoutFailsLaunch(t *testing.T) {
	plugin := newMockPlugin()
	plugin.provisionHang = true

	registry := NewRegistry()
	if err := registry.Register("test-app", plugin); err != nil {
		t.Fatalf("failed to register plugin: %v", err)
	}
	registry.Freeze()

	c, err := NewController(ControllerOptions{
		Registry:         registry,
		Store:            newMemStore(),
		Provider:         cloud.NewFake(),
		ProvisionTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}

	d, err := c.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	c.Wait()

	got, err := c.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LaunchStatus != StatusError {
		t.Errorf("expected status error after timeout, got %s", got.LaunchStatus)
	}
	if !strings.Contains(got.LaunchError, "deadline") {
		t.Errorf("launch error = %q, want deadline mention", got.LaunchError)
	}
}

func TestDeleteValidationFailedDeployment(t *testing.T) {
	plugin := newMockPlugin()
	plugin.processErr = NewValidationError("image unknown").WithField("image", "image must not be empty")
	c, _ := newTestController(t, plugin, nil)

	d, err := c.Launch(context.Background(), launchRequest())
	if err == nil {
		t.Fatal("expected launch to fail validation")
	}
	c.Wait()

	got, _ := c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusError {
		t.Fatalf("expected status error, got %s", got.LaunchStatus)
	}
	if got.LaunchResult != nil {
		t.Fatal("no provision result expected for a validation failure")
	}

	// Nothing was provisioned, so a single delete must reach the deleted
	// state instead of waiting forever for a confirmation.
	ok, err := c.Delete(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !ok {
		t.Fatal("expected delete of an unprovisioned deployment to confirm immediately")
	}
	got, _ = c.Get(context.Background(), d.ID)
	if got.LaunchStatus != StatusDeleted {
		t.Errorf("expected status deleted, got %s", got.LaunchStatus)
	}
}
