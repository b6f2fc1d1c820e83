package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports that a user-supplied application configuration
// violates a plugin's schema or semantic constraints. It is returned
// synchronously from the validation stage, before any infrastructure is
// touched, and carries field-level messages for the caller to surface.
type ValidationError struct {
	// Message is the overall validation failure message.
	Message string `json:"message"`

	// Fields maps configuration field paths to their individual messages.
	Fields map[string]string `json:"fields,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Message, strings.Join(parts, "; "))
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ValidationError) Unwrap() error { return e.Err }

// WithField adds a field-level message to the error.
func (e *ValidationError) WithField(path, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[path] = message
	return e
}

// NewValidationError creates a new validation error.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// ProvisioningError reports an unrecoverable infrastructure failure during
// provisioning. Any resources created before the failure are attributed in
// Partial so the caller can surface them for operator-driven cleanup; the
// orchestrator never discards or auto-deletes partial state.
type ProvisioningError struct {
	// Message is the human-readable failure message.
	Message string `json:"message"`

	// Partial describes resources that were created before the failure.
	// Nil when nothing was created.
	Partial *ProvisionResult `json:"partial,omitempty"`

	// Err is the underlying provider error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("provisioning failed: %s", e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ProvisioningError) Unwrap() error { return e.Err }

// WithPartial attributes partially created resources to the error.
func (e *ProvisioningError) WithPartial(partial *ProvisionResult) *ProvisioningError {
	e.Partial = partial
	return e
}

// NewProvisioningError creates a new provisioning error.
func NewProvisioningError(message string, err error) *ProvisioningError {
	return &ProvisioningError{Message: message, Err: err}
}

// ConfigurationError reports a failure while configuring an already
// provisioned host. Transient distinguishes retryable sub-failures (host not
// yet reachable, connection reset) from fatal ones (bad credentials, failed
// install step); the provisioned host is retained either way.
type ConfigurationError struct {
	// Message is the human-readable failure message.
	Message string `json:"message"`

	// Transient indicates the failure is expected to clear on retry.
	Transient bool `json:"transient"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration failed (%s): %s: %v", kind, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration failed (%s): %s", kind, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError creates a new fatal configuration error.
func NewConfigurationError(message string, err error) *ConfigurationError {
	return &ConfigurationError{Message: message, Err: err}
}

// NewTransientConfigurationError creates a configuration error that may be
// retried.
func NewTransientConfigurationError(message string, err error) *ConfigurationError {
	return &ConfigurationError{Message: message, Transient: true, Err: err}
}

// PluginNotFoundError reports that no plugin is registered for an application
// identifier. This is a deployment-request misconfiguration and fatal for the
// request.
type PluginNotFoundError struct {
	// AppID is the unregistered application identifier.
	AppID string `json:"app_id"`
}

// Error implements the error interface.
func (e *PluginNotFoundError) Error() string {
	return fmt.Sprintf("no plugin registered for application %q", e.AppID)
}

// IsValidation returns true if the error chain contains a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsProvisioning returns true if the error chain contains a ProvisioningError.
func IsProvisioning(err error) bool {
	var e *ProvisioningError
	return errors.As(err, &e)
}

// IsConfiguration returns true if the error chain contains a ConfigurationError.
func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// IsTransient returns true if the error chain contains a transient
// configuration failure.
func IsTransient(err error) bool {
	var e *ConfigurationError
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}

// IsPluginNotFound returns true if the error chain contains a
// PluginNotFoundError.
func IsPluginNotFound(err error) bool {
	var e *PluginNotFoundError
	return errors.As(err, &e)
}

// PartialResult extracts the partial provision result attributed to a
// provisioning failure, or nil when the error is of another kind or nothing
// was created.
func PartialResult(err error) *ProvisionResult {
	var e *ProvisioningError
	if errors.As(err, &e) {
		return e.Partial
	}
	return nil
}
