package humidtrigger

import (
	"fmt"
	"path/filepath"

	"humidtrigger/pkg/plugin"
)

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        "humidtrigger",
		Description: "Controls switches from humidity thresholds with a minimum-temperature gate",
		Priority:    plugin.PriorityDefault,
		Order:       50,
		Factory:     createPlugin,
	})
}

// createPlugin builds the plugin from the shared context.
func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	config, err := LoadConfig(filepath.Join(ctx.ConfigDir, ConfigFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to load humidtrigger config: %w", err)
	}

	return NewManager(ctx.HAClient, config, ctx.Logger, ctx.ReadOnly, ctx.Tracker), nil
}
