package threshold

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// unavailableState is the sentinel Home Assistant reports for a sensor
// that currently has no value.
const unavailableState = "unavailable"

// ErrUnavailable indicates a sensor reading that carries no usable value.
var ErrUnavailable = errors.New("reading unavailable")

// IsUnavailable reports whether a raw entity state carries no usable
// value: empty, missing or the platform's "unavailable" sentinel.
func IsUnavailable(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return trimmed == "" || trimmed == unavailableState
}

// ParseReading converts a raw entity state into a float. Empty and
// "unavailable" states return ErrUnavailable; anything else that fails to
// parse returns a conversion error.
func ParseReading(raw string) (float64, error) {
	if IsUnavailable(raw) {
		return 0, ErrUnavailable
	}
	trimmed := strings.TrimSpace(raw)

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric reading %q", raw)
	}

	return value, nil
}

// Evaluator runs the threshold decision over an immutable rule list.
// Each evaluation is stateless: it works only from the readings passed in
// and does not remember previously emitted commands, so reapplying the
// same command on consecutive passes is expected and harmless.
type Evaluator struct {
	rules  []Rule
	gated  bool
	logger *zap.Logger
}

// NewEvaluator creates an evaluator for the given rules. gated indicates
// whether a temperature sensor exists: when false, the per-rule MinTemp
// gates are inert and the secondary reading is ignored entirely.
func NewEvaluator(rules []Rule, gated bool, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		rules:  rules,
		gated:  gated,
		logger: logger.Named("threshold"),
	}
}

// Rules returns the evaluator's rule list.
func (e *Evaluator) Rules() []Rule {
	return e.rules
}

// Evaluate runs one pass over all rules for the given raw readings and
// returns one Result per rule. An unavailable or non-numeric primary
// reading (or secondary reading, when the evaluator is gated) aborts the
// whole pass: no results, no commands for any rule.
func (e *Evaluator) Evaluate(primary, secondary string) ([]Result, error) {
	humidity, err := ParseReading(primary)
	if err != nil {
		return nil, fmt.Errorf("humidity: %w", err)
	}

	var temperature float64
	if e.gated {
		temperature, err = ParseReading(secondary)
		if err != nil {
			return nil, fmt.Errorf("temperature: %w", err)
		}
	}

	results := make([]Result, 0, len(e.rules))
	for i, rule := range e.rules {
		result := e.evaluateRule(i, rule, humidity, temperature)
		e.logger.Debug("Evaluated rule",
			zap.Int("index", i),
			zap.String("entity", rule.Entity),
			zap.String("status", string(result.Status)),
			zap.String("reason", result.Reason))
		results = append(results, result)
	}

	return results, nil
}

// evaluateRule applies the decision rule to a single switch. Failures here
// affect only this rule; the caller continues with the next one.
func (e *Evaluator) evaluateRule(index int, rule Rule, humidity, temperature float64) Result {
	result := Result{Index: index, Entity: rule.Entity}

	if rule.Entity == "" {
		result.Status = StatusInvalid
		result.Reason = "no entity configured"
		return result
	}

	if e.gated && temperature < rule.MinTemp {
		result.Status = StatusSkipped
		result.Reason = fmt.Sprintf("temperature %.1f below minimum %.1f", temperature, rule.MinTemp)
		return result
	}

	var target Command
	switch {
	case humidity < rule.Low.Value:
		target = rule.Low.State
		result.Reason = fmt.Sprintf("humidity %.1f below %.1f", humidity, rule.Low.Value)
	case humidity > rule.High.Value:
		target = rule.High.State
		result.Reason = fmt.Sprintf("humidity %.1f above %.1f", humidity, rule.High.Value)
	default:
		// Equality to either bound lands here on purpose: only strict
		// comparisons trigger a command.
		result.Status = StatusInRange
		result.Reason = fmt.Sprintf("humidity %.1f within [%.1f, %.1f]", humidity, rule.Low.Value, rule.High.Value)
		return result
	}

	if !target.Valid() {
		result.Status = StatusInvalid
		result.Reason = fmt.Sprintf("unknown target state %q", string(target))
		return result
	}

	result.Status = StatusCommand
	result.Command = target
	return result
}
