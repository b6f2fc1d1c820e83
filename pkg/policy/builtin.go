package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		deploymentNamingPolicy(),
		requiredRegionPolicy(),
		firewallExposurePolicy(),
	}
}

// deploymentNamingPolicy enforces deployment naming conventions.
func deploymentNamingPolicy() Policy {
	return Policy{
		Name:        "deployment-naming",
		Description: "Enforces deployment naming conventions (lowercase, alphanumeric, hyphens only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		Rego: `package cloudlift.policies.naming

import rego.v1

deny contains violation if {
	name := input.name
	lower(name) != name
	violation := {
		"message": sprintf("Deployment name '%s' must be lowercase", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.name
	not regex.match("^[a-z0-9-]+$", name)
	violation := {
		"message": sprintf("Deployment name '%s' must contain only lowercase letters, numbers, and hyphens", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.name
	regex.match("^-|-$", name)
	violation := {
		"message": sprintf("Deployment name '%s' must not start or end with a hyphen", [name]),
		"severity": "error",
	}
}
`,
	}
}

// requiredRegionPolicy requires an explicit target region.
func requiredRegionPolicy() Policy {
	return Policy{
		Name:        "required-region",
		Description: "Requires every launch to name an explicit target region",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"placement"},
		CreatedAt:   time.Now(),
		Rego: `package cloudlift.policies.region

import rego.v1

deny contains violation if {
	not input.cloud_config.region
	violation := {
		"message": "Launch must name an explicit target region in cloud_config.region",
		"severity": "error",
	}
}
`,
	}
}

// firewallExposurePolicy flags launches that open administrative ports to the
// world.
func firewallExposurePolicy() Policy {
	return Policy{
		Name:        "firewall-exposure",
		Description: "Blocks firewall rules exposing administrative ports to 0.0.0.0/0",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"network", "security"},
		CreatedAt:   time.Now(),
		Rego: `package cloudlift.policies.firewall

import rego.v1

admin_ports := {3306, 5432, 6379, 27017}

deny contains violation if {
	some rule in input.app_config.firewall
	rule.cidr == "0.0.0.0/0"
	port := to_number(rule.port)
	admin_ports[port]
	violation := {
		"message": sprintf("Firewall rule exposes administrative port %d to the world", [port]),
		"severity": "error",
	}
}
`,
	}
}
