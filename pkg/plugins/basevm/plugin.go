package basevm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudlift/cloudlift/pkg/cloud"
	"github.com/cloudlift/cloudlift/pkg/config"
	"github.com/cloudlift/cloudlift/pkg/lifecycle"
	sshtransport "github.com/cloudlift/cloudlift/pkg/transports/ssh"
)

// AppID is the application-type identifier under which the plugin registers.
const AppID = "base-vm"

// SchemaName is the CUE schema the plugin validates app configs against.
const SchemaName = "basevm"

// Schema constrains the user-entered application config. Unknown keys are
// allowed so downstream plugins can extend the config without reopening it.
const Schema = `
flavor: string | *"m1.small"
image?: string & !=""
zone?:  string
user:   string | *"ubuntu"

configure_script?: string
derive_script?:    string
user_data?:        string

firewall?: [...{
	protocol:  string | *"tcp"
	from_port: int & >0 & <65536
	to_port:   int & >0 & <65536
	cidr?:     string
}]
`

// internalConfig is the plugin-private processed form of an app config. It
// travels sealed between ProcessAppConfig and ProvisionHost.
type internalConfig struct {
	Flavor   string                 `json:"flavor"`
	Image    string                 `json:"image,omitempty"`
	Zone     string                 `json:"zone,omitempty"`
	User     string                 `json:"user"`
	UserData string                 `json:"user_data,omitempty"`
	Firewall []cloud.FirewallRule   `json:"firewall,omitempty"`
	Derived  map[string]interface{} `json:"derived,omitempty"`
}

// Plugin launches and manages single-VM deployments.
type Plugin struct {
	schemas      *config.SchemaRegistry
	evaluator    *config.StarlarkEvaluator
	logger       zerolog.Logger
	pollInterval time.Duration
	maxPollWait  time.Duration

	// newTransport builds the SSH transport used by ConfigureHost. Tests
	// substitute an in-memory transport here.
	newTransport func(cfg *sshtransport.Config) (sshtransport.Transport, error)
}

var _ lifecycle.AppPlugin = (*Plugin)(nil)

// Option customizes a Plugin.
type Option func(*Plugin)

// WithLogger sets the plugin logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Plugin) { p.logger = logger }
}

// WithEvaluator sets the Starlark evaluator used for derive_script hooks.
func WithEvaluator(eval *config.StarlarkEvaluator) Option {
	return func(p *Plugin) { p.evaluator = eval }
}

// WithPollInterval sets the initial interval between instance state polls
// during provisioning.
func WithPollInterval(interval time.Duration) Option {
	return func(p *Plugin) { p.pollInterval = interval }
}

// WithTransportFactory substitutes the SSH transport constructor.
func WithTransportFactory(factory func(cfg *sshtransport.Config) (sshtransport.Transport, error)) Option {
	return func(p *Plugin) { p.newTransport = factory }
}

// New creates the base VM plugin.
func New(opts ...Option) (*Plugin, error) {
	p := &Plugin{
		schemas:      config.NewSchemaRegistry(),
		evaluator:    config.NewStarlarkEvaluator(10 * time.Second),
		logger:       zerolog.Nop(),
		pollInterval: 2 * time.Second,
		maxPollWait:  30 * time.Second,
		newTransport: func(cfg *sshtransport.Config) (sshtransport.Transport, error) {
			return sshtransport.NewClient(cfg)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.schemas.RegisterSchema(SchemaName, Schema); err != nil {
		return nil, fmt.Errorf("failed to register %s schema: %w", SchemaName, err)
	}
	return p, nil
}

// ProcessAppConfig implements lifecycle.AppPlugin. It validates the config
// against the schema, runs the optional derive hook, and seals the internal
// representation consumed by ProvisionHost.
func (p *Plugin) ProcessAppConfig(_ cloud.Provider, name string, cloudConfig lifecycle.CloudConfig, appConfig lifecycle.AppConfig) (lifecycle.ProcessedConfig, error) {
	if err := p.schemas.Validate(SchemaName, map[string]interface{}(appConfig)); err != nil {
		return lifecycle.ProcessedConfig{}, schemaToValidationError(err)
	}

	cfg := internalConfig{
		Flavor:   stringKey(appConfig, "flavor", "m1.small"),
		Image:    stringKey(appConfig, "image", ""),
		Zone:     stringKey(appConfig, "zone", stringKey(map[string]interface{}(cloudConfig), "zone", "")),
		User:     stringKey(appConfig, "user", "ubuntu"),
		UserData: stringKey(appConfig, "user_data", ""),
		Firewall: firewallRules(appConfig),
	}

	if script := stringKey(appConfig, "derive_script", ""); script != "" {
		derived, err := p.evaluator.Derive(context.Background(), script, appConfig, cloudConfig)
		if err != nil {
			return lifecycle.ProcessedConfig{}, lifecycle.NewValidationError(
				fmt.Sprintf("derive script failed: %v", err))
		}
		cfg.Derived = derived
	}

	p.logger.Debug().
		Str("deployment", name).
		Str("flavor", cfg.Flavor).
		Str("user", cfg.User).
		Msg("Processed app config")

	return lifecycle.Seal(cfg)
}

// sensitiveFragments mark config keys whose values must never be persisted
// in readable form.
var sensitiveFragments = []string{
	"password", "token", "secret", "private_key", "api_key",
	"credential", "access_key",
}

// SanitiseAppConfig implements lifecycle.AppPlugin. It masks the value of
// every key that looks like a secret, recursively.
func (p *Plugin) SanitiseAppConfig(appConfig lifecycle.AppConfig) (lifecycle.RedactedConfig, error) {
	sanitized := sanitizeMap(appConfig)
	return lifecycle.RedactedConfig(sanitized), nil
}

func sanitizeMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if isSensitiveKey(k) {
			out[k] = "********"
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return sanitizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if lower == "pk" {
		return true
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// schemaToValidationError translates a schema violation into the lifecycle
// error contract, carrying per-field messages through.
func schemaToValidationError(err error) error {
	verr := lifecycle.NewValidationError("app config failed schema validation")
	var serr *config.SchemaError
	if errors.As(err, &serr) {
		for path, msg := range serr.Fields {
			verr = verr.WithField(path, msg)
		}
	}
	verr.Err = err
	return verr
}

func stringKey(m map[string]interface{}, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func intKey(m map[string]interface{}, key string) (int, bool) {
	switch n := m[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// firewallRules lifts the firewall section of an app config into typed rules.
// The schema already guaranteed the shape.
func firewallRules(appConfig map[string]interface{}) []cloud.FirewallRule {
	raw, ok := appConfig["firewall"].([]interface{})
	if !ok {
		return nil
	}
	rules := make([]cloud.FirewallRule, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rule := cloud.FirewallRule{
			Protocol: stringKey(entry, "protocol", "tcp"),
			CIDR:     stringKey(entry, "cidr", ""),
		}
		if from, ok := intKey(entry, "from_port"); ok {
			rule.FromPort = from
		}
		if to, ok := intKey(entry, "to_port"); ok {
			rule.ToPort = to
		} else {
			rule.ToPort = rule.FromPort
		}
		rules = append(rules, rule)
	}
	return rules
}
