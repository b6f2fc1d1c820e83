// Package ssh reaches freshly provisioned hosts for post-launch
// configuration. Credentials come from the provisioning result: an in-memory
// PEM key, an address, and a user, never files on disk.
package ssh

import (
	"context"
	"time"
)

// Transport is the remote-execution surface plugins use during host
// configuration.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	Connect(ctx context.Context) error

	// Disconnect closes the SSH connection and releases all resources.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// WaitReady blocks until the host accepts SSH connections or the
	// context expires. It is used right after provisioning, when sshd may
	// not be up yet.
	WaitReady(ctx context.Context) error

	// Run executes a command on the remote host and returns its result.
	Run(ctx context.Context, cmd string) (*ExecResult, error)

	// Upload writes the given content to a remote path via SFTP.
	Upload(ctx context.Context, remotePath string, content []byte, mode uint32) error
}

// ExecResult represents the result of a command execution.
type ExecResult struct {
	// Stdout is the standard output from the command.
	Stdout string

	// Stderr is the standard error output from the command.
	Stderr string

	// ExitCode is the command's exit code.
	ExitCode int

	// Duration is the total execution time.
	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates if the error is temporary and can be retried.
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
