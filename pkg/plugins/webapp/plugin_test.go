package webapp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cloudlift/cloudlift/pkg/cloud"
	"github.com/cloudlift/cloudlift/pkg/lifecycle"
	"github.com/cloudlift/cloudlift/pkg/plugins/basevm"
	sshtransport "github.com/cloudlift/cloudlift/pkg/transports/ssh"
)

type taskSink struct {
	mu       sync.Mutex
	messages []string
}

func (t *taskSink) ReportProgress(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, message)
}

// nullTransport satisfies the SSH transport without doing anything, so
// ConfigureHost reaches the HTTP wait in tests.
type nullTransport struct{}

func (nullTransport) Connect(context.Context) error   { return nil }
func (nullTransport) Disconnect() error               { return nil }
func (nullTransport) IsConnected() bool               { return true }
func (nullTransport) WaitReady(context.Context) error { return nil }
func (nullTransport) Upload(context.Context, string, []byte, uint32) error {
	return nil
}
func (nullTransport) Run(context.Context, string) (*sshtransport.ExecResult, error) {
	return &sshtransport.ExecResult{ExitCode: 0}, nil
}

func newTestPlugin(t *testing.T, opts ...Option) *Plugin {
	t.Helper()
	base, err := basevm.New(
		basevm.WithPollInterval(time.Millisecond),
		basevm.WithTransportFactory(func(_ *sshtransport.Config) (sshtransport.Transport, error) {
			return nullTransport{}, nil
		}))
	if err != nil {
		t.Fatalf("basevm.New() error = %v", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 5 * time.Millisecond
	client.RetryWaitMax = 10 * time.Millisecond
	client.Logger = nil

	p, err := New(base, append([]Option{
		WithHTTPClient(client),
		WithReadyTimeout(500 * time.Millisecond),
	}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

// serverHostConfig splits an httptest server URL into a HostInfo address and
// the port config key.
func serverHostConfig(t *testing.T, server *httptest.Server) (lifecycle.HostInfo, lifecycle.AppConfig) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	hostInfo := lifecycle.HostInfo{Address: host, User: "ubuntu", PrivateKey: "key"}
	appConfig := lifecycle.AppConfig{"port": port, "configure_script": "true"}
	return hostInfo, appConfig
}

func TestProcessAppConfigRejectsBadPort(t *testing.T) {
	p := newTestPlugin(t)

	_, err := p.ProcessAppConfig(cloud.NewFake(), "web-1",
		lifecycle.CloudConfig{}, lifecycle.AppConfig{"port": 99999})
	if err == nil {
		t.Fatal("expected port validation failure")
	}

	var verr *lifecycle.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %T, want *lifecycle.ValidationError", err)
	}
	if len(verr.Fields) == 0 {
		t.Fatal("expected field-level messages on the validation error")
	}
	found := false
	for path := range verr.Fields {
		if strings.Contains(path, "port") {
			found = true
		}
	}
	if !found {
		t.Errorf("fields = %v, want a message for the port field", verr.Fields)
	}
}

func TestProvisionHostRecordsApplicationURL(t *testing.T) {
	p := newTestPlugin(t)
	provider := cloud.NewFake()
	appConfig := lifecycle.AppConfig{"port": 8080, "health_path": "/healthz"}

	processed, err := p.ProcessAppConfig(provider, "web-1", lifecycle.CloudConfig{}, appConfig)
	if err != nil {
		t.Fatalf("ProcessAppConfig() error = %v", err)
	}
	result, err := p.ProvisionHost(context.Background(), provider, &taskSink{}, "web-1",
		lifecycle.CloudConfig{}, appConfig, processed)
	if err != nil {
		t.Fatalf("ProvisionHost() error = %v", err)
	}

	url, _ := result.CloudLaunch[applicationURLKey].(string)
	want := "http://" + result.Host.Address + ":8080/healthz"
	if url != want {
		t.Errorf("application URL = %q, want %q", url, want)
	}
}

func TestConfigureHostWaitsForEndpoint(t *testing.T) {
	var hits int32
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		ready := hits > 2
		mu.Unlock()
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPlugin(t)
	hostInfo, appConfig := serverHostConfig(t, server)

	result, err := p.ConfigureHost(context.Background(), &taskSink{}, hostInfo, appConfig)
	if err != nil {
		t.Fatalf("ConfigureHost() error = %v", err)
	}
	if result[applicationURLKey] == nil {
		t.Error("config result omits the application URL")
	}
}

func TestConfigureHostEndpointNeverReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newTestPlugin(t)
	hostInfo, appConfig := serverHostConfig(t, server)

	_, err := p.ConfigureHost(context.Background(), &taskSink{}, hostInfo, appConfig)
	if err == nil {
		t.Fatal("expected readiness failure")
	}
	if !lifecycle.IsTransient(err) {
		t.Errorf("error = %v, want transient so the stage can be retried", err)
	}
}

func TestHealthCheckProbesEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPlugin(t)
	provider := cloud.NewFake()
	appConfig := lifecycle.AppConfig{}
	processed, err := p.ProcessAppConfig(provider, "web-1", lifecycle.CloudConfig{}, appConfig)
	if err != nil {
		t.Fatalf("ProcessAppConfig() error = %v", err)
	}
	result, err := p.ProvisionHost(context.Background(), provider, &taskSink{}, "web-1",
		lifecycle.CloudConfig{}, appConfig, processed)
	if err != nil {
		t.Fatalf("ProvisionHost() error = %v", err)
	}
	result.CloudLaunch[applicationURLKey] = server.URL

	deployment := &lifecycle.Deployment{
		ID:           "dep-1",
		AppID:        AppID,
		LaunchStatus: lifecycle.StatusHealthy,
		LaunchResult: result,
	}

	report, err := p.HealthCheck(context.Background(), provider, deployment)
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if report.InstanceStatus() != lifecycle.InstanceRunning {
		t.Fatalf("instance status = %s, want running", report.InstanceStatus())
	}
	if report["application_reachable"] != true {
		t.Errorf("application_reachable = %v, want true", report["application_reachable"])
	}
}

func TestHealthCheckUnreachableEndpoint(t *testing.T) {
	p := newTestPlugin(t)
	provider := cloud.NewFake()
	appConfig := lifecycle.AppConfig{}
	processed, err := p.ProcessAppConfig(provider, "web-1", lifecycle.CloudConfig{}, appConfig)
	if err != nil {
		t.Fatalf("ProcessAppConfig() error = %v", err)
	}
	result, err := p.ProvisionHost(context.Background(), provider, &taskSink{}, "web-1",
		lifecycle.CloudConfig{}, appConfig, processed)
	if err != nil {
		t.Fatalf("ProvisionHost() error = %v", err)
	}
	// Port 9 (discard) is never serving HTTP.
	result.CloudLaunch[applicationURLKey] = "http://127.0.0.1:9/"

	deployment := &lifecycle.Deployment{
		ID:           "dep-1",
		AppID:        AppID,
		LaunchStatus: lifecycle.StatusHealthy,
		LaunchResult: result,
	}

	report, err := p.HealthCheck(context.Background(), provider, deployment)
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if report["application_reachable"] != false {
		t.Errorf("application_reachable = %v, want false", report["application_reachable"])
	}
}

func TestHealthCheckVanishedInstanceSkipsProbe(t *testing.T) {
	p := newTestPlugin(t)
	provider := cloud.NewFake()
	appConfig := lifecycle.AppConfig{}
	processed, err := p.ProcessAppConfig(provider, "web-1", lifecycle.CloudConfig{}, appConfig)
	if err != nil {
		t.Fatalf("ProcessAppConfig() error = %v", err)
	}
	result, err := p.ProvisionHost(context.Background(), provider, &taskSink{}, "web-1",
		lifecycle.CloudConfig{}, appConfig, processed)
	if err != nil {
		t.Fatalf("ProvisionHost() error = %v", err)
	}
	provider.Vanish(result.InstanceID())

	deployment := &lifecycle.Deployment{ID: "dep-1", AppID: AppID, LaunchResult: result}
	report, err := p.HealthCheck(context.Background(), provider, deployment)
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if report.InstanceStatus() != lifecycle.InstanceDeleted {
		t.Errorf("instance status = %s, want deleted", report.InstanceStatus())
	}
	if _, ok := report["application_reachable"]; ok {
		t.Error("probe ran against a deleted instance")
	}
}
