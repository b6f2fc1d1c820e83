package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client implements the Transport interface over a single SSH connection.
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	isConnected bool
}

// NewClient creates a new SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes an SSH connection to the remote host.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: false,
			IsAuthError: true,
		}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case err := <-errChan:
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
		}
	case client := <-connChan:
		c.client = client
		c.isConnected = true
		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// Disconnect closes the SSH connection.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.isConnected = false
	return err
}

// IsConnected returns true if the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// WaitReady retries Connect until it succeeds or the context expires. Hosts
// straight out of provisioning commonly refuse connections for a while.
func (c *Client) WaitReady(ctx context.Context) error {
	interval := c.config.ReadyPollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var lastErr error
	for {
		if err := c.Connect(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return &TransportError{
				Op:          "wait-ready",
				Err:         fmt.Errorf("host never became reachable: %w", lastErr),
				IsTemporary: true,
			}
		case <-time.After(interval):
		}
	}
}

// getClient returns the underlying SSH client, failing if not connected.
func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, &TransportError{
			Op:          "session",
			Err:         fmt.Errorf("not connected"),
			IsTemporary: true,
		}
	}
	return c.client, nil
}

// Run executes a command on the remote host.
func (c *Client) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	timeout := c.config.CommandTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log.Debug().Str("command", cmd).Str("host", c.config.Host).Msg("executing command")

	start := time.Now()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-doneChan:
	}

	result := &ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			// A non-zero exit is a command outcome, not a transport
			// failure.
			return result, nil
		}
		return result, &TransportError{
			Op:          "exec",
			Err:         runErr,
			IsTemporary: true,
		}
	}

	return result, nil
}

// Upload writes content to a remote path via SFTP, creating parent
// directories as needed.
func (c *Client) Upload(ctx context.Context, remotePath string, content []byte, mode uint32) error {
	sshClient, err := c.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &TransportError{
				Op:  "upload",
				Err: fmt.Errorf("failed to create remote directory %s: %w", dir, err),
			}
		}
	}

	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to create remote file: %w", err),
		}
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to write remote file: %w", err),
			IsTemporary: true,
		}
	}
	if err := f.Close(); err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to close remote file: %w", err),
		}
	}

	if err := sftpClient.Chmod(remotePath, fs.FileMode(mode)); err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to set remote file mode: %w", err),
		}
	}

	log.Debug().
		Str("path", remotePath).
		Int("bytes", len(content)).
		Msg("file uploaded")

	return nil
}
