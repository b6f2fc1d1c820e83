package telemetry

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// None of these may panic on the disabled instance.
	m.RecordLaunchStarted("base-vm")
	m.RecordLaunchCompleted("base-vm", "healthy")
	m.RecordStageDuration("provisioning", time.Second)
	m.RecordPluginCall("base-vm", "provision_host", errors.New("boom"))
	m.RecordHealthCheck("running")
	if err := m.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestMetricsExposition(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "cloudlift"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordLaunchStarted("base-vm")
	m.RecordLaunchCompleted("base-vm", "healthy")
	m.RecordStageDuration("provisioning", 3*time.Second)
	m.RecordHealthCheck("running")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"cloudlift_launches_started_total",
		"cloudlift_launches_completed_total",
		"cloudlift_stage_duration_seconds",
		"cloudlift_health_checks_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %s", want)
		}
	}
	if !strings.Contains(body, `app_id="base-vm"`) {
		t.Error("exposition missing app_id label")
	}
}

func TestMetricsPluginErrorCounting(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "cloudlift"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordPluginCall("base-vm", "provision_host", nil)
	m.RecordPluginCall("base-vm", "provision_host", errors.New("quota exceeded"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	if !strings.Contains(body, `cloudlift_plugin_calls_total{app_id="base-vm",operation="provision_host"} 2`) {
		t.Error("plugin call counter not incremented twice")
	}
	if !strings.Contains(body, `cloudlift_plugin_errors_total{app_id="base-vm",operation="provision_host"} 1`) {
		t.Error("plugin error counter not incremented once")
	}
}
