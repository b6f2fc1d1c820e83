package ssh

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds SSH connection configuration for one provisioned host.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// PrivateKeyPEM is the PEM-encoded private key, as returned by the
	// provider when the key pair was created. It is a secret and never
	// written to disk.
	PrivateKeyPEM string

	// Password for password-based authentication, used when no key is set.
	Password string

	// KnownHostsPath is the path to a known_hosts file. When empty host
	// key verification is skipped; freshly provisioned hosts have no
	// recorded key yet.
	KnownHostsPath string

	// ConnectionTimeout is the timeout for establishing a connection.
	ConnectionTimeout time.Duration

	// CommandTimeout is the default timeout for command execution.
	CommandTimeout time.Duration

	// ReadyPollInterval is how often WaitReady retries the handshake.
	ReadyPollInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for a host just
// handed back by provisioning.
func DefaultConfig(host, user, privateKeyPEM string) *Config {
	return &Config{
		Host:              host,
		Port:              22,
		User:              user,
		PrivateKeyPEM:     privateKeyPEM,
		ConnectionTimeout: 30 * time.Second,
		CommandTimeout:    5 * time.Minute,
		ReadyPollInterval: 5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.PrivateKeyPEM == "" && c.Password == "" {
		return fmt.Errorf("either a private key or a password is required")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if c.PrivateKeyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.Password))
		// Many sshd setups present the password prompt through
		// keyboard-interactive instead.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
