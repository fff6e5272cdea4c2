package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func defaultRule(entity string) Rule {
	return Rule{
		Entity:  entity,
		MinTemp: DefaultMinTemp,
		Low:     Threshold{Value: DefaultLowValue, State: DefaultLowState},
		High:    Threshold{Value: DefaultHighValue, State: DefaultHighState},
	}
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantErr error
	}{
		{name: "plain number", raw: "47.5", want: 47.5},
		{name: "integer", raw: "60", want: 60},
		{name: "whitespace", raw: " 12.0 ", want: 12},
		{name: "zero", raw: "0", want: 0},
		{name: "negative", raw: "-3.5", want: -3.5},
		{name: "empty", raw: "", wantErr: ErrUnavailable},
		{name: "unavailable sentinel", raw: "unavailable", wantErr: ErrUnavailable},
		{name: "non-numeric", raw: "damp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := ParseReading(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.name == "non-numeric" {
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestEvaluate_ThresholdCrossings(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rule := Rule{
		Entity:  "switch.bathroom_fan",
		MinTemp: 10,
		Low:     Threshold{Value: 45, State: CommandOff},
		High:    Threshold{Value: 60, State: CommandOn},
	}
	evaluator := NewEvaluator([]Rule{rule}, true, logger)

	tests := []struct {
		name        string
		humidity    string
		temperature string
		wantStatus  Status
		wantCommand Command
	}{
		{name: "below low turns off", humidity: "40", temperature: "15", wantStatus: StatusCommand, wantCommand: CommandOff},
		{name: "above high turns on", humidity: "65", temperature: "15", wantStatus: StatusCommand, wantCommand: CommandOn},
		{name: "inside dead zone", humidity: "50", temperature: "15", wantStatus: StatusInRange},
		{name: "equal to low bound", humidity: "45", temperature: "15", wantStatus: StatusInRange},
		{name: "equal to high bound", humidity: "60", temperature: "15", wantStatus: StatusInRange},
		{name: "far below low still turns off", humidity: "1", temperature: "15", wantStatus: StatusCommand, wantCommand: CommandOff},
		{name: "far above high still turns on", humidity: "99.9", temperature: "15", wantStatus: StatusCommand, wantCommand: CommandOn},
		{name: "temperature gate suppresses low crossing", humidity: "40", temperature: "5", wantStatus: StatusSkipped},
		{name: "temperature gate suppresses high crossing", humidity: "80", temperature: "9.9", wantStatus: StatusSkipped},
		{name: "temperature equal to gate passes", humidity: "40", temperature: "10", wantStatus: StatusCommand, wantCommand: CommandOff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := evaluator.Evaluate(tt.humidity, tt.temperature)
			require.NoError(t, err)
			require.Len(t, results, 1)

			assert.Equal(t, tt.wantStatus, results[0].Status)
			if tt.wantStatus == StatusCommand {
				assert.Equal(t, tt.wantCommand, results[0].Command)
			} else {
				assert.Empty(t, results[0].Command)
			}
		})
	}
}

func TestEvaluate_UnavailableReadingsAbortPass(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rules := []Rule{defaultRule("switch.fan_a"), defaultRule("switch.fan_b")}
	evaluator := NewEvaluator(rules, true, logger)

	tests := []struct {
		name        string
		humidity    string
		temperature string
	}{
		{name: "humidity unavailable", humidity: "unavailable", temperature: "15"},
		{name: "humidity empty", humidity: "", temperature: "15"},
		{name: "humidity non-numeric", humidity: "soggy", temperature: "15"},
		{name: "temperature unavailable", humidity: "70", temperature: "unavailable"},
		{name: "temperature non-numeric", humidity: "70", temperature: "warm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := evaluator.Evaluate(tt.humidity, tt.temperature)
			assert.Error(t, err)
			assert.Nil(t, results, "an aborted pass must emit nothing for any rule")
		})
	}
}

func TestEvaluate_UngatedIgnoresSecondary(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	evaluator := NewEvaluator([]Rule{defaultRule("switch.fan")}, false, logger)

	// No temperature sensor configured: the secondary reading is irrelevant
	// even when it is unavailable, and MinTemp never gates.
	results, err := evaluator.Evaluate("70", "unavailable")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusCommand, results[0].Status)
	assert.Equal(t, CommandOn, results[0].Command)
}

func TestEvaluate_InvalidRulesDoNotBlockOthers(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rules := []Rule{
		{
			// Missing entity: invalid, skipped.
			MinTemp: DefaultMinTemp,
			Low:     Threshold{Value: 45, State: CommandOff},
			High:    Threshold{Value: 60, State: CommandOn},
		},
		{
			Entity:  "switch.broken",
			MinTemp: DefaultMinTemp,
			Low:     Threshold{Value: 45, State: Command("banana")},
			High:    Threshold{Value: 60, State: CommandOn},
		},
		defaultRule("switch.fan"),
	}
	evaluator := NewEvaluator(rules, true, logger)

	results, err := evaluator.Evaluate("40", "15")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, StatusInvalid, results[0].Status)
	assert.Equal(t, StatusInvalid, results[1].Status)
	assert.Contains(t, results[1].Reason, "banana")

	// The healthy rule still fires.
	assert.Equal(t, StatusCommand, results[2].Status)
	assert.Equal(t, CommandOff, results[2].Command)
}

func TestEvaluate_InvertedBounds(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	// low >= high is allowed; no ordering is assumed. With low=60 and
	// high=45, a reading of 50 is both below low and above high, and the
	// low bound wins because it is checked first.
	rule := Rule{
		Entity: "switch.fan",
		Low:    Threshold{Value: 60, State: CommandOff},
		High:   Threshold{Value: 45, State: CommandOn},
	}
	evaluator := NewEvaluator([]Rule{rule}, false, logger)

	results, err := evaluator.Evaluate("50", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusCommand, results[0].Status)
	assert.Equal(t, CommandOff, results[0].Command)
}

func TestEvaluate_ZeroThresholdIsRespected(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	// A zero bound is a real bound, not a missing value.
	rule := Rule{
		Entity: "switch.dehumidifier",
		Low:    Threshold{Value: 0, State: CommandOff},
		High:   Threshold{Value: 60, State: CommandOn},
	}
	evaluator := NewEvaluator([]Rule{rule}, false, logger)

	results, err := evaluator.Evaluate("-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCommand, results[0].Status)
	assert.Equal(t, CommandOff, results[0].Command)

	results, err = evaluator.Evaluate("0", "")
	require.NoError(t, err)
	assert.Equal(t, StatusInRange, results[0].Status)
}

func TestEvaluate_MultipleRulesIndependent(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rules := []Rule{
		{
			Entity:  "switch.fan",
			MinTemp: 5,
			Low:     Threshold{Value: 45, State: CommandOff},
			High:    Threshold{Value: 60, State: CommandOn},
		},
		{
			Entity:  "switch.window_opener",
			MinTemp: 18,
			Low:     Threshold{Value: 30, State: CommandOff},
			High:    Threshold{Value: 75, State: CommandOn},
		},
	}
	evaluator := NewEvaluator(rules, true, logger)

	results, err := evaluator.Evaluate("70", "15")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// First rule fires, second is gated by its own higher MinTemp.
	assert.Equal(t, StatusCommand, results[0].Status)
	assert.Equal(t, CommandOn, results[0].Command)
	assert.Equal(t, StatusSkipped, results[1].Status)
}
