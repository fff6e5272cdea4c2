package humidtrigger

import (
	"testing"

	"humidtrigger/internal/ha"
	"humidtrigger/internal/shadowstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	humiditySensor    = "sensor.bathroom_humidity"
	temperatureSensor = "sensor.bathroom_temperature"
	fanSwitch         = "switch.bathroom_fan"
)

func testConfig(t *testing.T, content string) *Config {
	t.Helper()
	var config Config
	require.NoError(t, yaml.Unmarshal([]byte(content), &config))
	return &config
}

func gatedConfig(t *testing.T) *Config {
	return testConfig(t, `
sensors:
  humidity: sensor.bathroom_humidity
  temperature: sensor.bathroom_temperature
switches:
  - entity: switch.bathroom_fan
    min_temp: 10.0
    lt: { value: 45.0, state: "off" }
    gt: { value: 60.0, state: "on" }
`)
}

func newTestManager(t *testing.T, mock *ha.MockClient, config *Config, readOnly bool) (*Manager, *shadowstate.Tracker) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	tracker := shadowstate.NewTracker()
	return NewManager(mock, config, logger, readOnly, tracker), tracker
}

// commandCalls filters recorded service calls down to turn_on/turn_off.
func commandCalls(mock *ha.MockClient) []ha.ServiceCall {
	var calls []ha.ServiceCall
	for _, call := range mock.GetServiceCalls() {
		if call.Service == "turn_on" || call.Service == "turn_off" {
			calls = append(calls, call)
		}
	}
	return calls
}

func TestManager_StartupTurnsOffBelowLow(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "40", nil)
	mock.SetState(temperatureSensor, "15", nil)

	manager, _ := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	calls := commandCalls(mock)
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_off", calls[0].Service)
	assert.Equal(t, "switch", calls[0].Domain)
	assert.Equal(t, fanSwitch, calls[0].Data["entity_id"])
}

func TestManager_StartupTurnsOnAboveHigh(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "65", nil)
	mock.SetState(temperatureSensor, "15", nil)

	manager, _ := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	calls := commandCalls(mock)
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_on", calls[0].Service)
	assert.Equal(t, fanSwitch, calls[0].Data["entity_id"])
}

func TestManager_DeadZoneDoesNothing(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "50", nil)
	mock.SetState(temperatureSensor, "15", nil)

	manager, tracker := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	assert.Empty(t, commandCalls(mock))

	last := tracker.Last()
	require.NotNil(t, last)
	assert.False(t, last.Aborted)
	assert.Equal(t, 0, last.Commands)
}

func TestManager_TemperatureGateSuppressesAction(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "40", nil)
	mock.SetState(temperatureSensor, "5", nil)

	manager, tracker := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	assert.Empty(t, commandCalls(mock), "min_temp gate must suppress the low-threshold action")

	last := tracker.Last()
	require.NotNil(t, last)
	require.Len(t, last.Rules, 1)
	assert.Equal(t, "skipped", last.Rules[0].Status)
}

func TestManager_UnavailableHumidityAbortsPass(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "unavailable", nil)
	mock.SetState(temperatureSensor, "15", nil)

	manager, tracker := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	assert.Empty(t, commandCalls(mock))

	last := tracker.Last()
	require.NotNil(t, last)
	assert.True(t, last.Aborted)
}

func TestManager_MissingSensorEntityAbortsPass(t *testing.T) {
	mock := ha.NewMockClient()
	// Humidity entity never seeded: the read fails and the pass aborts.
	mock.SetState(temperatureSensor, "15", nil)

	manager, tracker := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	assert.Empty(t, commandCalls(mock))
	require.NotNil(t, tracker.Last())
	assert.True(t, tracker.Last().Aborted)
}

func TestManager_SensorChangeReevaluates(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "50", nil)
	mock.SetState(temperatureSensor, "15", nil)

	manager, _ := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	require.Empty(t, commandCalls(mock))

	mock.SimulateStateChange(humiditySensor, "65")

	calls := commandCalls(mock)
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_on", calls[0].Service)
}

func TestManager_TemperatureChangeReevaluates(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "65", nil)
	mock.SetState(temperatureSensor, "5", nil)

	manager, _ := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	// Gated at startup, nothing happens.
	require.Empty(t, commandCalls(mock))

	// Warming past min_temp releases the gate.
	mock.SimulateStateChange(temperatureSensor, "12")

	calls := commandCalls(mock)
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_on", calls[0].Service)
}

func TestManager_UnchangedValueIsDeduplicated(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "50", nil)
	mock.SetState(temperatureSensor, "15", nil)

	manager, tracker := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	mock.SimulateStateChange(humiditySensor, "65")
	passesAfterChange, _, _ := tracker.Counters()
	mock.ClearServiceCalls()

	// Same value again: no evaluation, no commands.
	mock.SimulateStateChange(humiditySensor, "65")

	assert.Empty(t, commandCalls(mock))
	passes, _, _ := tracker.Counters()
	assert.Equal(t, passesAfterChange, passes, "an unchanged reading must not re-invoke the evaluator")
}

func TestManager_UnavailableNotificationIgnored(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "50", nil)
	mock.SetState(temperatureSensor, "15", nil)

	manager, tracker := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	passesAfterStart, _, _ := tracker.Counters()

	mock.SimulateStateChange(humiditySensor, "unavailable")

	passes, _, _ := tracker.Counters()
	assert.Equal(t, passesAfterStart, passes, "an unavailable reading must not trigger a pass")
	assert.Empty(t, commandCalls(mock))
}

func TestManager_InvalidSwitchDoesNotBlockOthers(t *testing.T) {
	config := testConfig(t, `
sensors:
  humidity: sensor.bathroom_humidity
switches:
  - min_temp: 3.0
  - entity: switch.bathroom_fan
    lt: { value: 45.0, state: "off" }
    gt: { value: 60.0, state: "on" }
`)

	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "70", nil)

	manager, tracker := newTestManager(t, mock, config, false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	calls := commandCalls(mock)
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_on", calls[0].Service)
	assert.Equal(t, fanSwitch, calls[0].Data["entity_id"])

	last := tracker.Last()
	require.NotNil(t, last)
	require.Len(t, last.Rules, 2)
	assert.Equal(t, "invalid", last.Rules[0].Status)
	assert.Equal(t, "command", last.Rules[1].Status)
}

func TestManager_UnknownTargetStateSkipped(t *testing.T) {
	config := testConfig(t, `
sensors:
  humidity: sensor.bathroom_humidity
switches:
  - entity: switch.bathroom_fan
    gt: { value: 60.0, state: "toggle" }
`)

	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "70", nil)

	manager, tracker := newTestManager(t, mock, config, false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	assert.Empty(t, commandCalls(mock))

	last := tracker.Last()
	require.NotNil(t, last)
	require.Len(t, last.Rules, 1)
	assert.Equal(t, "invalid", last.Rules[0].Status)
	assert.Contains(t, last.Rules[0].Reason, "toggle")
}

func TestManager_ReadOnlyModeIssuesNoCommands(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "70", nil)
	mock.SetState(temperatureSensor, "15", nil)

	manager, tracker := newTestManager(t, mock, gatedConfig(t), true)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	assert.Empty(t, commandCalls(mock))

	// The decision is still recorded, only the service call is withheld.
	last := tracker.Last()
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Commands)
}

func TestManager_UngatedConfigIgnoresTemperature(t *testing.T) {
	config := testConfig(t, `
sensors:
  humidity: sensor.bathroom_humidity
switches:
  - entity: switch.bathroom_fan
    min_temp: 10.0
    lt: { value: 45.0, state: "off" }
    gt: { value: 60.0, state: "on" }
`)

	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "70", nil)

	manager, _ := newTestManager(t, mock, config, false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	// No temperature sensor: min_temp never gates.
	calls := commandCalls(mock)
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_on", calls[0].Service)
}

func TestManager_ResetReappliesCurrentState(t *testing.T) {
	mock := ha.NewMockClient()
	mock.SetState(humiditySensor, "65", nil)
	mock.SetState(temperatureSensor, "15", nil)

	manager, tracker := newTestManager(t, mock, gatedConfig(t), false)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	mock.ClearServiceCalls()
	require.NoError(t, manager.Reset())

	// Reapplying the same command is harmless and expected.
	calls := commandCalls(mock)
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_on", calls[0].Service)
	assert.Equal(t, shadowstate.TriggerReset, tracker.Last().Trigger)
}
