package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block a launch.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never be overridden.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation at this severity stops the launch.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was loaded.
	CreatedAt time.Time `json:"created_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// LaunchInput is the document handed to Rego policies for a launch request.
// The app configuration is always the sanitized view, never raw secrets.
type LaunchInput struct {
	// Name is the requested deployment name.
	Name string `json:"name"`

	// AppID identifies the application type being launched.
	AppID string `json:"app_id"`

	// CloudConfig is the target infrastructure description.
	CloudConfig map[string]interface{} `json:"cloud_config"`

	// AppConfig is the sanitized application configuration.
	AppConfig map[string]interface{} `json:"app_config"`
}

// Result represents the outcome of evaluating a launch against all policies.
type Result struct {
	// Allowed indicates whether the launch may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// RejectionError is returned when a launch is blocked by policy.
type RejectionError struct {
	Violations []Violation
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("launch rejected by policy (%s)", strings.Join(msgs, "; "))
}
