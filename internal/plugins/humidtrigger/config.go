package humidtrigger

import (
	"fmt"
	"os"

	"humidtrigger/internal/threshold"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the plugin's configuration file inside the config dir.
const ConfigFileName = "humid_config.yaml"

// SensorsConfig names the sensor entities to watch. Humidity is required;
// temperature is optional and when absent the min_temp gates are inert.
type SensorsConfig struct {
	Humidity    string `yaml:"humidity"`
	Temperature string `yaml:"temperature"`
}

// ThresholdConfig is one bound of a switch entry. Pointers distinguish
// absent fields from explicit zeroes so that "value: 0" is a real bound.
type ThresholdConfig struct {
	Value *float64 `yaml:"value"`
	State *string  `yaml:"state"`
}

// SwitchConfig is one switch entry as written in YAML.
type SwitchConfig struct {
	Entity  string           `yaml:"entity"`
	MinTemp *float64         `yaml:"min_temp"`
	Low     *ThresholdConfig `yaml:"lt"`
	High    *ThresholdConfig `yaml:"gt"`
}

// SwitchNodes defers decoding of individual switch entries so that one
// malformed entry cannot fail the whole file. A single bare mapping is
// accepted as a one-element list.
type SwitchNodes []yaml.Node

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *SwitchNodes) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		nodes := make([]yaml.Node, len(value.Content))
		for i, node := range value.Content {
			nodes[i] = *node
		}
		*s = nodes
	case yaml.MappingNode:
		*s = SwitchNodes{*value}
	default:
		return fmt.Errorf("switches must be a list or a single mapping")
	}
	return nil
}

// Config is the humid_config.yaml structure.
type Config struct {
	Sensors  SensorsConfig `yaml:"sensors"`
	Switches SwitchNodes   `yaml:"switches"`
}

// LoadConfig loads and validates the plugin configuration. A missing
// humidity sensor is the one hard failure: the plugin cannot run at all
// without its primary reading.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Sensors.Humidity == "" {
		return nil, fmt.Errorf("no humidity sensor configured")
	}

	return &config, nil
}

// Gated reports whether a temperature sensor is configured.
func (c *Config) Gated() bool {
	return c.Sensors.Temperature != ""
}

// Rules decodes and normalizes the switch entries, applying defaults to
// absent optional fields. A malformed entry is logged and dropped without
// affecting the others. An entry with no entity is logged but kept, so
// every evaluation pass reports it as invalid while the remaining
// switches keep working.
func (c *Config) Rules(logger *zap.Logger) []threshold.Rule {
	rules := make([]threshold.Rule, 0, len(c.Switches))

	for i := range c.Switches {
		var entry SwitchConfig
		if err := c.Switches[i].Decode(&entry); err != nil {
			logger.Error("Skipping malformed switch entry",
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		if entry.Entity == "" {
			logger.Warn("Switch entry has no entity configured",
				zap.Int("index", i))
		}

		rules = append(rules, entry.toRule())
	}

	return rules
}

// toRule converts a YAML entry into a normalized rule with defaults.
func (s *SwitchConfig) toRule() threshold.Rule {
	rule := threshold.Rule{
		Entity:  s.Entity,
		MinTemp: threshold.DefaultMinTemp,
		Low:     threshold.Threshold{Value: threshold.DefaultLowValue, State: threshold.DefaultLowState},
		High:    threshold.Threshold{Value: threshold.DefaultHighValue, State: threshold.DefaultHighState},
	}

	if s.MinTemp != nil {
		rule.MinTemp = *s.MinTemp
	}
	if s.Low != nil {
		if s.Low.Value != nil {
			rule.Low.Value = *s.Low.Value
		}
		if s.Low.State != nil {
			rule.Low.State = threshold.Command(*s.Low.State)
		}
	}
	if s.High != nil {
		if s.High.Value != nil {
			rule.High.Value = *s.High.Value
		}
		if s.High.State != nil {
			rule.High.State = threshold.Command(*s.High.State)
		}
	}

	return rule
}
