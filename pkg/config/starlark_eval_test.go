package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestDeriveReturnsDict(t *testing.T) {
	se := NewStarlarkEvaluator(0)

	script := `
def derive(config, cloud):
    return {
        "hostname": config["name"] + "." + cloud["region"] + ".example.com",
        "replicas": config.get("count", 1) * 2,
    }
`
	out, err := se.Derive(context.Background(), script,
		map[string]interface{}{"name": "demo", "count": 2},
		map[string]interface{}{"region": "fra1"})
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if out["hostname"] != "demo.fra1.example.com" {
		t.Errorf("unexpected hostname: %v", out["hostname"])
	}
	if out["replicas"] != int64(4) {
		t.Errorf("unexpected replicas: %v (%T)", out["replicas"], out["replicas"])
	}
}

func TestDeriveMissingFunction(t *testing.T) {
	se := NewStarlarkEvaluator(0)
	_, err := se.Derive(context.Background(), `x = 1`, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "derive") {
		t.Errorf("expected missing derive error, got %v", err)
	}
}

func TestDeriveMustReturnDict(t *testing.T) {
	se := NewStarlarkEvaluator(0)
	script := `
def derive(config, cloud):
    return 42
`
	if _, err := se.Derive(context.Background(), script, nil, nil); err == nil {
		t.Error("expected non-dict result to fail")
	}
}

func TestDeriveScriptError(t *testing.T) {
	se := NewStarlarkEvaluator(0)
	script := `
def derive(config, cloud):
    return config["missing-key"]
`
	if _, err := se.Derive(context.Background(), script, map[string]interface{}{}, nil); err == nil {
		t.Error("expected script error to surface")
	}
}

func TestDeriveTimeout(t *testing.T) {
	se := NewStarlarkEvaluator(50 * time.Millisecond)
	script := `
def derive(config, cloud):
    x = 0
    for i in range(1000000000):
        x += i
    return {"x": x}
`
	if _, err := se.Derive(context.Background(), script, nil, nil); err == nil {
		t.Error("expected runaway script to time out")
	}
}

func TestDeriveNestedStructures(t *testing.T) {
	se := NewStarlarkEvaluator(0)
	script := `
def derive(config, cloud):
    return {
        "firewall": [{"port": p, "cidr": "0.0.0.0/0"} for p in config["ports"]],
    }
`
	out, err := se.Derive(context.Background(), script,
		map[string]interface{}{"ports": []interface{}{80, 443}}, nil)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	rules, ok := out["firewall"].([]interface{})
	if !ok || len(rules) != 2 {
		t.Fatalf("unexpected firewall rules: %v", out["firewall"])
	}
	first, ok := rules[0].(map[string]interface{})
	if !ok || first["port"] != int64(80) {
		t.Errorf("unexpected rule: %v", rules[0])
	}
}
