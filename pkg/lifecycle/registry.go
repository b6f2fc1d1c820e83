package lifecycle

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps application-type identifiers to plugin instances. It is
// process-wide state: plugins are registered at startup and the registry is
// frozen before the first deployment request, so resolution during concurrent
// deployment handling never races with registration. The instance resolved
// for a deployment is reused for all subsequent calls against it, preserving
// plugin-internal caching.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]AppPlugin
	frozen  bool
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]AppPlugin)}
}

// Register adds a plugin under the given application identifier. It fails if
// the identifier is already taken or the registry has been frozen.
func (r *Registry) Register(appID string, plugin AppPlugin) error {
	if appID == "" {
		return fmt.Errorf("application identifier is required")
	}
	if plugin == nil {
		return fmt.Errorf("plugin for %q is nil", appID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", appID)
	}
	if _, exists := r.plugins[appID]; exists {
		return fmt.Errorf("plugin %q already registered", appID)
	}
	r.plugins[appID] = plugin
	return nil
}

// Freeze marks startup registration as complete. Further Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get resolves the plugin responsible for an application identifier. Fails
// with *PluginNotFoundError when the identifier is unregistered.
func (r *Registry) Get(appID string) (AppPlugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, exists := r.plugins[appID]
	if !exists {
		return nil, &PluginNotFoundError{AppID: appID}
	}
	return plugin, nil
}

// List returns the registered application identifiers in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
