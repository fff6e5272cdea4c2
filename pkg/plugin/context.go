package plugin

import (
	"humidtrigger/internal/ha"
	"humidtrigger/internal/shadowstate"

	"go.uber.org/zap"
)

// Context provides dependencies to plugins during initialization.
type Context struct {
	// HAClient provides entity state reads, service calls and
	// state-change subscriptions.
	HAClient ha.HAClient

	// Logger is the root structured logger. Plugins should derive a
	// namespaced logger with Logger.Named(pluginname).
	Logger *zap.Logger

	// ReadOnly indicates the service should log intended actions without
	// issuing service calls.
	ReadOnly bool

	// ConfigDir is the directory containing plugin configuration files.
	ConfigDir string

	// Tracker records evaluation passes for the status API.
	Tracker *shadowstate.Tracker
}

// NewContext creates a plugin context with all shared dependencies.
func NewContext(haClient ha.HAClient, logger *zap.Logger, readOnly bool, configDir string, tracker *shadowstate.Tracker) *Context {
	return &Context{
		HAClient:  haClient,
		Logger:    logger,
		ReadOnly:  readOnly,
		ConfigDir: configDir,
		Tracker:   tracker,
	}
}
