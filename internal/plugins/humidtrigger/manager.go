// Package humidtrigger controls switch entities from humidity thresholds.
// It watches a humidity sensor (and optionally a temperature sensor),
// re-runs the threshold evaluation on every accepted sensor change and
// applies the resulting turn_on/turn_off commands.
package humidtrigger

import (
	"fmt"
	"sync"

	"humidtrigger/internal/ha"
	"humidtrigger/internal/shadowstate"
	"humidtrigger/internal/threshold"

	"go.uber.org/zap"
)

// Manager is the humidtrigger plugin. The rule list is built once from
// configuration and never mutated; every evaluation pass reads the sensor
// states fresh from Home Assistant.
type Manager struct {
	haClient  ha.HAClient
	config    *Config
	evaluator *threshold.Evaluator
	tracker   *shadowstate.Tracker
	logger    *zap.Logger
	readOnly  bool

	// evalMu serializes evaluation passes so the startup pass cannot race
	// an early sensor notification.
	evalMu sync.Mutex

	subs []ha.Subscription
}

// NewManager creates the plugin from a loaded configuration.
func NewManager(haClient ha.HAClient, config *Config, logger *zap.Logger, readOnly bool, tracker *shadowstate.Tracker) *Manager {
	log := logger.Named("humidtrigger")
	rules := config.Rules(log)

	return &Manager{
		haClient:  haClient,
		config:    config,
		evaluator: threshold.NewEvaluator(rules, config.Gated(), log),
		tracker:   tracker,
		logger:    log,
		readOnly:  readOnly,
	}
}

// Name implements plugin.Plugin.
func (m *Manager) Name() string {
	return "humidtrigger"
}

// Start subscribes to the configured sensors and runs the initial
// evaluation pass so the switches reflect reality before any change
// event arrives.
func (m *Manager) Start() error {
	m.logger.Info("Starting HumidTrigger Manager")

	sub, err := m.haClient.SubscribeStateChanges(m.config.Sensors.Humidity, m.handleHumidityChange)
	if err != nil {
		return fmt.Errorf("failed to subscribe to humidity sensor: %w", err)
	}
	m.subs = append(m.subs, sub)

	if m.config.Gated() {
		sub, err := m.haClient.SubscribeStateChanges(m.config.Sensors.Temperature, m.handleTemperatureChange)
		if err != nil {
			m.Stop()
			return fmt.Errorf("failed to subscribe to temperature sensor: %w", err)
		}
		m.subs = append(m.subs, sub)
	}

	m.logger.Info("HumidTrigger initialized",
		zap.String("humidity_sensor", m.config.Sensors.Humidity),
		zap.String("temperature_sensor", m.config.Sensors.Temperature),
		zap.Int("switches", len(m.evaluator.Rules())))

	m.runPass(shadowstate.TriggerStartup)
	return nil
}

// Stop unsubscribes from all sensor notifications.
func (m *Manager) Stop() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
	m.logger.Info("HumidTrigger Manager stopped")
}

// Reset re-runs the evaluation against current sensor state.
func (m *Manager) Reset() error {
	m.logger.Info("Resetting HumidTrigger - re-running evaluation")
	m.runPass(shadowstate.TriggerReset)
	return nil
}

// shouldEvaluate filters sensor notifications: an absent or unavailable
// new value never triggers a pass, and neither does a value equal to the
// previous one.
func shouldEvaluate(oldState, newState *ha.State) bool {
	if newState == nil || threshold.IsUnavailable(newState.State) {
		return false
	}
	if oldState != nil && oldState.State == newState.State {
		return false
	}
	return true
}

// handleHumidityChange processes humidity sensor notifications.
func (m *Manager) handleHumidityChange(entityID string, oldState, newState *ha.State) {
	if !shouldEvaluate(oldState, newState) {
		m.logger.Debug("Ignoring humidity notification", zap.String("entity", entityID))
		return
	}

	m.logger.Debug("Humidity changed",
		zap.String("entity", entityID),
		zap.String("new", newState.State))
	m.runPass(shadowstate.TriggerHumidity)
}

// handleTemperatureChange processes temperature sensor notifications.
func (m *Manager) handleTemperatureChange(entityID string, oldState, newState *ha.State) {
	if !shouldEvaluate(oldState, newState) {
		m.logger.Debug("Ignoring temperature notification", zap.String("entity", entityID))
		return
	}

	m.logger.Debug("Temperature changed",
		zap.String("entity", entityID),
		zap.String("new", newState.State))
	m.runPass(shadowstate.TriggerTemperature)
}

// currentState reads an entity's raw state, treating any read failure as
// an unavailable reading.
func (m *Manager) currentState(entityID string) string {
	state, err := m.haClient.GetState(entityID)
	if err != nil {
		m.logger.Warn("Failed to read sensor state",
			zap.String("entity", entityID),
			zap.Error(err))
		return ""
	}
	return state.State
}

// runPass fetches both readings fresh and evaluates every rule. An
// unavailable or non-numeric reading aborts the pass for all rules.
func (m *Manager) runPass(trigger shadowstate.Trigger) {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	humidity := m.currentState(m.config.Sensors.Humidity)
	var temperature string
	if m.config.Gated() {
		temperature = m.currentState(m.config.Sensors.Temperature)
	}

	results, err := m.evaluator.Evaluate(humidity, temperature)
	if err != nil {
		m.logger.Warn("Evaluation pass aborted",
			zap.String("trigger", string(trigger)),
			zap.Error(err))
		if m.tracker != nil {
			m.tracker.RecordAborted(trigger, humidity, temperature, err.Error())
		}
		return
	}

	for _, result := range results {
		switch result.Status {
		case threshold.StatusCommand:
			m.apply(result)
		case threshold.StatusSkipped:
			m.logger.Info("Rule skipped",
				zap.Int("rule", result.Index),
				zap.String("entity", result.Entity),
				zap.String("reason", result.Reason))
		case threshold.StatusInvalid:
			m.logger.Warn("Rule invalid",
				zap.Int("rule", result.Index),
				zap.String("entity", result.Entity),
				zap.String("reason", result.Reason))
		default:
			m.logger.Debug("No action",
				zap.Int("rule", result.Index),
				zap.String("entity", result.Entity),
				zap.String("reason", result.Reason))
		}
	}

	if m.tracker != nil {
		m.tracker.RecordPass(trigger, humidity, temperature, results)
	}
}

// apply issues the turn_on/turn_off service call for one result. Command
// failures are logged and dropped; the next sensor change re-evaluates.
func (m *Manager) apply(result threshold.Result) {
	if m.readOnly {
		m.logger.Info("READ-ONLY mode: would apply command",
			zap.String("entity", result.Entity),
			zap.String("command", string(result.Command)),
			zap.String("reason", result.Reason))
		return
	}

	var err error
	switch result.Command {
	case threshold.CommandOn:
		err = m.haClient.TurnOn(result.Entity)
	case threshold.CommandOff:
		err = m.haClient.TurnOff(result.Entity)
	}
	if err != nil {
		m.logger.Error("Failed to apply command",
			zap.String("entity", result.Entity),
			zap.String("command", string(result.Command)),
			zap.Error(err))
		return
	}

	m.logger.Info("Applied command",
		zap.String("entity", result.Entity),
		zap.String("command", string(result.Command)),
		zap.String("reason", result.Reason))
}
