// Package telemetry provides the observability stack for the orchestrator:
// structured logging (zerolog), Prometheus metrics, OpenTelemetry tracing,
// and an in-process event bus carrying deployment progress events.
//
// Secrets never reach this package: callers attach sanitized configurations
// only, and host private keys are stripped before any value becomes a log
// field or event payload.
package telemetry
