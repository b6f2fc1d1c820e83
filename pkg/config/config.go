package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cloudlift/cloudlift/pkg/telemetry"
)

// Config is the orchestrator's configuration file.
type Config struct {
	// DatabasePath is where the SQLite database lives.
	DatabasePath string `yaml:"database_path" validate:"required"`

	// PolicyPaths are directories or files with operator launch policies.
	PolicyPaths []string `yaml:"policy_paths" validate:"omitempty,dive,required"`

	// PolicyWatch enables hot-reloading of policy files.
	PolicyWatch bool `yaml:"policy_watch"`

	// Provider selects and configures the cloud provider.
	Provider ProviderConfig `yaml:"provider" validate:"required"`

	// Launch tunes launch pipeline behavior.
	Launch LaunchConfig `yaml:"launch"`

	// Telemetry configures logging, metrics, tracing, and events.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ProviderConfig selects the cloud provider backing deployments.
type ProviderConfig struct {
	// Name is the provider identifier (e.g., "fake").
	Name string `yaml:"name" validate:"required"`

	// Region is the default target region for launches.
	Region string `yaml:"region"`

	// Token is the provider API credential. Secret.
	Token string `yaml:"token"`
}

// LaunchConfig tunes the launch pipeline.
type LaunchConfig struct {
	// ProvisionTimeout bounds one provisioning attempt.
	ProvisionTimeout time.Duration `yaml:"provision_timeout" validate:"min=0"`

	// ConfigureTimeout bounds one host configuration attempt.
	ConfigureTimeout time.Duration `yaml:"configure_timeout" validate:"min=0"`

	// ProgressBufferSize bounds the in-flight progress event queue.
	ProgressBufferSize int `yaml:"progress_buffer_size" validate:"min=0"`
}

// Default returns a configuration suited to local development.
func Default() *Config {
	return &Config{
		DatabasePath: "cloudlift.db",
		Provider: ProviderConfig{
			Name: "fake",
		},
		Launch: LaunchConfig{
			ProvisionTimeout:   20 * time.Minute,
			ConfigureTimeout:   20 * time.Minute,
			ProgressBufferSize: 256,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads and validates a configuration file, filling unset fields with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints and the telemetry section.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
