package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func launchInput() *LaunchInput {
	return &LaunchInput{
		Name:  "demo-app",
		AppID: "base-vm",
		CloudConfig: map[string]interface{}{
			"region": "fra1",
		},
		AppConfig: map[string]interface{}{
			"flavor": "small",
		},
	}
}

func TestEvaluateLaunchAllowed(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluateLaunch(context.Background(), launchInput())
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected launch to be allowed, violations: %+v", result.Violations)
	}
}

func TestEvaluateLaunchBadName(t *testing.T) {
	e := newTestEngine(t)

	input := launchInput()
	input.Name = "Demo_App"
	result, err := e.EvaluateLaunch(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected launch with invalid name to be denied")
	}
}

func TestEvaluateLaunchMissingRegion(t *testing.T) {
	e := newTestEngine(t)

	input := launchInput()
	delete(input.CloudConfig, "region")
	result, err := e.EvaluateLaunch(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected launch without region to be denied")
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "required-region" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a required-region violation, got %+v", result.Violations)
	}
}

func TestEvaluateLaunchExposedAdminPort(t *testing.T) {
	e := newTestEngine(t)

	input := launchInput()
	input.AppConfig["firewall"] = []interface{}{
		map[string]interface{}{"port": 22, "cidr": "0.0.0.0/0"},
		map[string]interface{}{"port": 5432, "cidr": "0.0.0.0/0"},
	}
	result, err := e.EvaluateLaunch(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected launch exposing port 5432 to be denied")
	}
}

func TestAuthorizeLaunchRejection(t *testing.T) {
	e := newTestEngine(t)

	err := e.AuthorizeLaunch(context.Background(), "Bad_Name", "base-vm",
		map[string]interface{}{"region": "fra1"},
		map[string]interface{}{})
	if err == nil {
		t.Fatal("expected authorization to fail")
	}

	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RejectionError, got %T", err)
	}
	if len(rejection.Violations) == 0 {
		t.Error("expected blocking violations to be attributed")
	}
	if !strings.Contains(err.Error(), "deployment-naming") {
		t.Errorf("expected policy name in message: %s", err.Error())
	}
}

func TestAuthorizeLaunchAllowed(t *testing.T) {
	e := newTestEngine(t)

	err := e.AuthorizeLaunch(context.Background(), "demo-app", "base-vm",
		map[string]interface{}{"region": "fra1"},
		map[string]interface{}{"flavor": "small"})
	if err != nil {
		t.Errorf("expected authorization to pass: %v", err)
	}
}

func TestDisablePolicy(t *testing.T) {
	e := newTestEngine(t)

	if err := e.DisablePolicy("required-region"); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	input := launchInput()
	delete(input.CloudConfig, "region")
	result, err := e.EvaluateLaunch(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected launch to pass with policy disabled, violations: %+v", result.Violations)
	}

	if err := e.DisablePolicy("ghost"); err == nil {
		t.Error("expected disabling an unknown policy to fail")
	}
}

func TestLoadCustomPolicy(t *testing.T) {
	e := newTestEngine(t)

	dir := t.TempDir()
	rego := `package cloudlift.policies.custom

import rego.v1

deny contains violation if {
	input.app_id == "forbidden-app"
	violation := {
		"message": "forbidden-app launches are not allowed",
		"severity": "error",
	}
}
`
	writePolicyFile(t, dir, "custom.rego", rego)

	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := e.GetPolicy("custom"); err != nil {
		t.Fatalf("expected policy to be registered: %v", err)
	}

	input := launchInput()
	input.AppID = "forbidden-app"
	result, err := e.EvaluateLaunch(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected custom policy to deny the launch")
	}
}
