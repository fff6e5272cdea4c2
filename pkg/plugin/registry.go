package plugin

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// Priority constants for plugin registration. A registration with higher
// priority replaces an existing plugin of the same name, which lets a
// private build override the reference implementation.
const (
	PriorityDefault  = 0
	PriorityOverride = 100
)

// PluginInfo is the registration record for one plugin.
type PluginInfo struct {
	// Name is the unique identifier; same-name registrations resolve by
	// Priority.
	Name string

	// Description is a human-readable summary, logged at registration.
	Description string

	// Priority decides which registration wins for a shared name.
	Priority int

	// Factory creates instances of the plugin.
	Factory Factory

	// Order is the startup order; lower values start first. Defaults to 50.
	Order int
}

// Registry manages plugin registration and instantiation.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]PluginInfo
	order   []string
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]PluginInfo),
		order:   make([]string, 0),
	}
}

// Register adds a plugin. When a plugin of the same name exists, the
// higher priority wins; on equal priority the later registration wins.
func (r *Registry) Register(info PluginInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if info.Factory == nil {
		return fmt.Errorf("plugin %s: factory cannot be nil", info.Name)
	}

	if info.Order == 0 {
		info.Order = 50
	}

	existing, exists := r.plugins[info.Name]
	if exists {
		if info.Priority < existing.Priority {
			log.Printf("Plugin %q registration skipped (priority %d < existing %d)",
				info.Name, info.Priority, existing.Priority)
			return nil
		}
		log.Printf("Plugin %q being overridden (priority %d -> %d)",
			info.Name, existing.Priority, info.Priority)
	}

	r.plugins[info.Name] = info
	if !exists {
		r.order = append(r.order, info.Name)
	}

	log.Printf("Plugin %q registered (priority %d, order %d): %s",
		info.Name, info.Priority, info.Order, info.Description)
	return nil
}

// Get returns the registration for name, or nil when absent.
func (r *Registry) Get(name string) *PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.plugins[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns all registered plugins sorted by startup order.
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PluginInfo, 0, len(r.plugins))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// CreateAll instantiates every registered plugin in startup order. On a
// factory error the already-created plugins are stopped and the error is
// returned.
func (r *Registry) CreateAll(ctx *Context) ([]Plugin, error) {
	infos := r.List()
	result := make([]Plugin, 0, len(infos))

	for _, info := range infos {
		p, err := info.Factory(ctx)
		if err != nil {
			for i := len(result) - 1; i >= 0; i-- {
				result[i].Stop()
			}
			return nil, fmt.Errorf("failed to create plugin %s: %w", info.Name, err)
		}
		result = append(result, p)
	}

	return result, nil
}

// Names returns the registered plugin names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Clear removes all registrations. Useful for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins = make(map[string]PluginInfo)
	r.order = make([]string, 0)
}

var globalRegistry = NewRegistry()

// Register adds a plugin to the global registry; typically called from
// init() in plugin packages.
func Register(info PluginInfo) error {
	return globalRegistry.Register(info)
}

// Get returns plugin info from the global registry.
func Get(name string) *PluginInfo {
	return globalRegistry.Get(name)
}

// List returns all plugins from the global registry.
func List() []PluginInfo {
	return globalRegistry.List()
}

// CreateAll creates all plugins from the global registry.
func CreateAll(ctx *Context) ([]Plugin, error) {
	return globalRegistry.CreateAll(ctx)
}

// Names returns all plugin names from the global registry.
func Names() []string {
	return globalRegistry.Names()
}

// ClearGlobal clears the global registry. Useful for tests.
func ClearGlobal() {
	globalRegistry.Clear()
}
