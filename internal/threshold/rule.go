// Package threshold implements the humidity threshold decision logic.
// Given a humidity reading (and optionally a gating temperature reading),
// it decides per configured switch whether the switch should be commanded
// on, commanded off, or left alone.
package threshold

import "fmt"

// Command is the target state applied to a switch entity.
type Command string

const (
	CommandOn  Command = "on"
	CommandOff Command = "off"
)

// Valid reports whether the command is one the platform accepts.
func (c Command) Valid() bool {
	return c == CommandOn || c == CommandOff
}

// Default values applied to switch rules with missing optional fields.
const (
	DefaultMinTemp   = 5.0
	DefaultLowValue  = 45.0
	DefaultHighValue = 60.0
)

var (
	DefaultLowState  = CommandOff
	DefaultHighState = CommandOn
)

// Threshold is one bound of a rule: the state applied when the humidity
// crosses Value. The low bound fires on strictly-below, the high bound on
// strictly-above; equality never fires.
type Threshold struct {
	Value float64
	State Command
}

// Rule is the complete threshold configuration for a single switch.
// Rules are built once at startup and are immutable afterwards.
type Rule struct {
	// Entity is the switch entity to control. A rule without an entity is
	// invalid and reported as such on every evaluation pass.
	Entity string

	// MinTemp gates the rule: when a temperature reading is available and
	// strictly below MinTemp, the rule is skipped entirely.
	MinTemp float64

	// Low fires when humidity < Low.Value.
	Low Threshold

	// High fires when humidity > High.Value.
	High Threshold
}

// Status classifies the outcome of evaluating one rule.
type Status string

const (
	// StatusCommand means the rule produced a command for its entity.
	StatusCommand Status = "command"

	// StatusInRange means the humidity sits in the closed interval between
	// the low and high bounds. No action is taken there.
	StatusInRange Status = "in_range"

	// StatusSkipped means the minimum-temperature gate suppressed the rule.
	StatusSkipped Status = "skipped"

	// StatusInvalid means the rule itself is unusable (missing entity or
	// an unknown target command). Invalid rules never block later rules.
	StatusInvalid Status = "invalid"
)

// Result is the outcome of evaluating a single rule in one pass.
type Result struct {
	Index   int
	Entity  string
	Status  Status
	Command Command // set only when Status == StatusCommand
	Reason  string
}

func (r Result) String() string {
	if r.Status == StatusCommand {
		return fmt.Sprintf("rule %d (%s): %s (%s)", r.Index, r.Entity, r.Command, r.Reason)
	}
	return fmt.Sprintf("rule %d (%s): %s (%s)", r.Index, r.Entity, r.Status, r.Reason)
}
