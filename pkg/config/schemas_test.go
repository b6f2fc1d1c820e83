package config

import (
	"errors"
	"testing"
)

const vmSchema = `
flavor: "small" | "medium" | "large"
image?: string
count?: int & >=1 & <=10
`

func TestSchemaValidateAccepts(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("vm", vmSchema); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	err := sr.Validate("vm", map[string]interface{}{
		"flavor": "small",
		"count":  3,
	})
	if err != nil {
		t.Errorf("expected valid config to pass, got %v", err)
	}
}

func TestSchemaValidateRejectsWithFieldMessages(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("vm", vmSchema); err != nil {
		t.Fatal(err)
	}

	err := sr.Validate("vm", map[string]interface{}{
		"flavor": "gigantic",
	})
	if err == nil {
		t.Fatal("expected validation to fail")
	}

	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %T", err)
	}
	if schemaErr.Schema != "vm" {
		t.Errorf("unexpected schema name: %s", schemaErr.Schema)
	}
	if len(schemaErr.Fields) == 0 {
		t.Error("expected field-level messages")
	}
	if _, ok := schemaErr.Fields["flavor"]; !ok {
		t.Errorf("expected a flavor message, got %v", schemaErr.Fields)
	}
}

func TestSchemaValidateRangeConstraint(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("vm", vmSchema); err != nil {
		t.Fatal(err)
	}

	err := sr.Validate("vm", map[string]interface{}{
		"flavor": "small",
		"count":  99,
	})
	if err == nil {
		t.Error("expected out-of-range count to fail")
	}
}

func TestSchemaValidateUnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.Validate("ghost", map[string]interface{}{}); err == nil {
		t.Error("expected unknown schema to fail")
	}
}

func TestRegisterSchemaBadCUE(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("broken", "flavor: &^%$"); err == nil {
		t.Error("expected invalid CUE to fail compilation")
	}
}
