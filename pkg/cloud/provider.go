// Package cloud defines the provider boundary: the opaque capability handle
// the orchestrator passes unchanged into plugin calls, narrowed to the
// operations the built-in plugins need. Concrete cloud SDK integrations live
// with the collaborator that constructs the Provider; this package also ships
// an in-memory Fake for tests and development.
package cloud

import (
	"context"
	"errors"
)

// ErrInstanceNotFound is returned by instance lookups when the provider no
// longer knows the resource. Callers treat this as a positive answer, not a
// failure.
var ErrInstanceNotFound = errors.New("instance not found")

// InstanceState is the provider-reported state of a compute instance.
type InstanceState string

const (
	// StatePending indicates the instance is being created or started.
	StatePending InstanceState = "pending"

	// StateRunning indicates the instance is up.
	StateRunning InstanceState = "running"

	// StateStopped indicates the instance exists but is not running.
	StateStopped InstanceState = "stopped"

	// StateRebooting indicates a reboot is in progress.
	StateRebooting InstanceState = "rebooting"

	// StateError indicates the instance is in a provider-side error state.
	StateError InstanceState = "error"
)

// Instance describes a compute instance on the target provider.
type Instance struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	State     InstanceState `json:"state"`
	PublicIP  string        `json:"public_ip,omitempty"`
	PrivateIP string        `json:"private_ip,omitempty"`
	ImageID   string        `json:"image_id,omitempty"`
	VMType    string        `json:"vm_type,omitempty"`
	Zone      string        `json:"zone,omitempty"`
}

// KeyPair is a provider-managed SSH key pair. Material is only populated on
// creation and is a secret.
type KeyPair struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Material string `json:"-"`
}

// FirewallRule is one inbound rule applied to a launched instance.
type FirewallRule struct {
	Protocol string `json:"protocol"`
	FromPort int    `json:"from_port"`
	ToPort   int    `json:"to_port"`
	CIDR     string `json:"cidr,omitempty"`
}

// CreateInstanceInput carries everything needed to launch an instance.
type CreateInstanceInput struct {
	Name          string
	ImageID       string
	VMType        string
	Zone          string
	KeyPairName   string
	UserData      string
	FirewallRules []FirewallRule
}

// Provider is the capability handle for one cloud account/region. All
// implementations must be safe for concurrent use: multiple deployments
// provision independently against the same handle.
type Provider interface {
	// Name identifies the provider implementation for logs.
	Name() string

	// GetInstance looks up an instance by ID. Returns ErrInstanceNotFound
	// when the provider no longer knows it.
	GetInstance(ctx context.Context, id string) (*Instance, error)

	// CreateInstance launches a new instance.
	CreateInstance(ctx context.Context, input CreateInstanceInput) (*Instance, error)

	// DeleteInstance removes an instance. Returns ErrInstanceNotFound when
	// it is already gone.
	DeleteInstance(ctx context.Context, id string) error

	// RebootInstance restarts an instance at the infrastructure level.
	RebootInstance(ctx context.Context, id string) error

	// GetOrCreateKeyPair fetches an existing key pair by name or creates a
	// new one. Material is populated only for newly created pairs.
	GetOrCreateKeyPair(ctx context.Context, name string) (*KeyPair, error)

	// AttachPublicIP ensures the instance has a public address and returns
	// it. Providers where instances always get one may return the existing
	// address.
	AttachPublicIP(ctx context.Context, id string) (string, error)
}
