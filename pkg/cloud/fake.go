package cloud

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Provider for tests and the development provider of the
// CLI. It supports fault injection: failing instance creation after the
// supporting resources were made (to exercise partial-provisioning paths) and
// making instances vanish out from under a deployment.
type Fake struct {
	mu        sync.Mutex
	seq       int
	instances map[string]*Instance
	keyPairs  map[string]*KeyPair

	// CreateErr, when set, makes CreateInstance fail. Key pair creation
	// still succeeds, leaving partial state behind.
	CreateErr error

	// RebootErr, when set, makes RebootInstance fail.
	RebootErr error

	// Calls records the provider methods invoked, in order.
	Calls []string
}

// NewFake creates an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		instances: make(map[string]*Instance),
		keyPairs:  make(map[string]*KeyPair),
	}
}

// Name implements Provider.
func (f *Fake) Name() string { return "fake" }

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

// GetInstance implements Provider.
func (f *Fake) GetInstance(_ context.Context, id string) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetInstance")

	inst, ok := f.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

// CreateInstance implements Provider.
func (f *Fake) CreateInstance(_ context.Context, input CreateInstanceInput) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateInstance")

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	f.seq++
	inst := &Instance{
		ID:        fmt.Sprintf("i-%04d", f.seq),
		Name:      input.Name,
		State:     StateRunning,
		PrivateIP: fmt.Sprintf("10.0.0.%d", f.seq),
		ImageID:   input.ImageID,
		VMType:    input.VMType,
		Zone:      input.Zone,
	}
	f.instances[inst.ID] = inst
	return copyInstance(inst), nil
}

// DeleteInstance implements Provider.
func (f *Fake) DeleteInstance(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteInstance")

	if _, ok := f.instances[id]; !ok {
		return ErrInstanceNotFound
	}
	delete(f.instances, id)
	return nil
}

// RebootInstance implements Provider.
func (f *Fake) RebootInstance(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RebootInstance")

	if f.RebootErr != nil {
		return f.RebootErr
	}
	inst, ok := f.instances[id]
	if !ok {
		return ErrInstanceNotFound
	}
	inst.State = StateRunning
	return nil
}

// GetOrCreateKeyPair implements Provider.
func (f *Fake) GetOrCreateKeyPair(_ context.Context, name string) (*KeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetOrCreateKeyPair")

	if kp, ok := f.keyPairs[name]; ok {
		cp := *kp
		cp.Material = ""
		return &cp, nil
	}
	f.seq++
	kp := &KeyPair{
		ID:       fmt.Sprintf("kp-%04d", f.seq),
		Name:     name,
		Material: fmt.Sprintf("fake-private-key-%04d", f.seq),
	}
	f.keyPairs[name] = kp
	cp := *kp
	return &cp, nil
}

// AttachPublicIP implements Provider.
func (f *Fake) AttachPublicIP(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AttachPublicIP")

	inst, ok := f.instances[id]
	if !ok {
		return "", ErrInstanceNotFound
	}
	if inst.PublicIP == "" {
		inst.PublicIP = fmt.Sprintf("198.51.100.%d", f.seq)
	}
	return inst.PublicIP, nil
}

// Vanish removes an instance without going through DeleteInstance, simulating
// a resource destroyed outside the orchestrator.
func (f *Fake) Vanish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, id)
}

// SetState overrides the state of an existing instance.
func (f *Fake) SetState(id string, state InstanceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[id]; ok {
		inst.State = state
	}
}

// CallCount returns how many times the named method was invoked.
func (f *Fake) CallCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func copyInstance(inst *Instance) *Instance {
	cp := *inst
	return &cp
}
