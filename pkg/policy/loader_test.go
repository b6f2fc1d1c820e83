package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

const sampleRego = `# Blocks launches into the test region
package cloudlift.policies.sample

import rego.v1

deny contains violation if {
	input.cloud_config.region == "test-region"
	violation := {
		"message": "test-region is reserved",
		"severity": "error",
	}
}
`

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "sample.rego", sampleRego)
	writePolicyFile(t, dir, "notes.txt", "not a policy")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "sample" {
		t.Errorf("unexpected name: %s", p.Name)
	}
	if p.Severity != SeverityError {
		t.Errorf("unexpected severity: %s", p.Severity)
	}
	if p.Description != "Blocks launches into the test region" {
		t.Errorf("unexpected description: %q", p.Description)
	}
	if !p.Enabled {
		t.Error("loaded policies must be enabled")
	}
}

func TestLoadJSONPolicy(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "sample.json", `{
		"name": "json-sample",
		"description": "from json",
		"rego": "package cloudlift.policies.js\n\nimport rego.v1\n\ndeny contains \"nope\" if { input.app_id == \"x\" }\n",
		"enabled": true
	}`)

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "json-sample" {
		t.Fatalf("unexpected policies: %+v", policies)
	}
	if policies[0].Severity != SeverityError {
		t.Errorf("expected default error severity, got %s", policies[0].Severity)
	}
}

func TestLoadFromMissingPath(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/does/not/exist"}); err == nil {
		t.Error("expected load from missing path to fail")
	}
}

func TestWatchTriggersReload(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "sample.rego", sampleRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := NewLoader(zerolog.Nop())

	var mu sync.Mutex
	var reloaded []Policy
	notify := make(chan struct{}, 4)
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		mu.Lock()
		reloaded = policies
		mu.Unlock()
		notify <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	writePolicyFile(t, dir, "extra.rego", sampleRego)

	select {
	case <-notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reloaded) != 2 {
		t.Errorf("expected 2 policies after reload, got %d", len(reloaded))
	}
}
