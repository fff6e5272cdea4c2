// Package plugin provides the plugin interfaces and registry for the
// humidtrigger service. Plugins register themselves with the global
// registry from init() functions and are instantiated at startup with a
// shared Context.
package plugin

// Plugin is the core interface every automation plugin implements.
type Plugin interface {
	// Name returns the unique identifier for this plugin, used for
	// registration and logging.
	Name() string

	// Start sets up subscriptions and runs any initial evaluation.
	// Returns an error if initialization fails; a failed plugin is
	// logged and skipped, never fatal to the process.
	Start() error

	// Stop unsubscribes from state changes and releases resources.
	Stop()
}

// Resettable is an optional interface for plugins that can re-evaluate
// their conditions on demand, for example from the status API.
type Resettable interface {
	// Reset re-runs the plugin's evaluation against current sensor state.
	Reset() error
}

// Factory creates a new plugin instance from a context. Factories are
// registered with the global registry and called during startup.
type Factory func(ctx *Context) (Plugin, error)
