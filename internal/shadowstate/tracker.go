// Package shadowstate records what the evaluator last decided and why.
// Each evaluation pass captures its triggering event, the raw sensor
// readings it saw and the per-rule outcomes, so the decision can be
// inspected after the fact through the status API.
package shadowstate

import (
	"sync"
	"time"

	"humidtrigger/internal/threshold"
)

// Trigger identifies what started an evaluation pass.
type Trigger string

const (
	TriggerStartup     Trigger = "startup"
	TriggerHumidity    Trigger = "humidity"
	TriggerTemperature Trigger = "temperature"
	TriggerReset       Trigger = "reset"
)

// RuleOutcome is the recorded result for one switch rule in one pass.
type RuleOutcome struct {
	Entity  string `json:"entity"`
	Status  string `json:"status"`
	Command string `json:"command,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Evaluation is the full record of one pass.
type Evaluation struct {
	Time        time.Time     `json:"time"`
	Trigger     Trigger       `json:"trigger"`
	Humidity    string        `json:"humidity"`
	Temperature string        `json:"temperature,omitempty"`
	Aborted     bool          `json:"aborted"`
	AbortReason string        `json:"abort_reason,omitempty"`
	Rules       []RuleOutcome `json:"rules,omitempty"`
	Commands    int           `json:"commands"`
}

// Tracker keeps the most recent evaluation plus running counters.
// Safe for concurrent use.
type Tracker struct {
	mu           sync.RWMutex
	last         *Evaluation
	totalPasses  int
	totalAborted int
	totalActions int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordPass stores a completed evaluation pass.
func (t *Tracker) RecordPass(trigger Trigger, humidity, temperature string, results []threshold.Result) {
	evaluation := &Evaluation{
		Time:        time.Now(),
		Trigger:     trigger,
		Humidity:    humidity,
		Temperature: temperature,
		Rules:       make([]RuleOutcome, 0, len(results)),
	}

	for _, result := range results {
		outcome := RuleOutcome{
			Entity: result.Entity,
			Status: string(result.Status),
			Reason: result.Reason,
		}
		if result.Status == threshold.StatusCommand {
			outcome.Command = string(result.Command)
			evaluation.Commands++
		}
		evaluation.Rules = append(evaluation.Rules, outcome)
	}

	t.mu.Lock()
	t.last = evaluation
	t.totalPasses++
	t.totalActions += evaluation.Commands
	t.mu.Unlock()
}

// RecordAborted stores a pass that produced no results.
func (t *Tracker) RecordAborted(trigger Trigger, humidity, temperature, reason string) {
	t.mu.Lock()
	t.last = &Evaluation{
		Time:        time.Now(),
		Trigger:     trigger,
		Humidity:    humidity,
		Temperature: temperature,
		Aborted:     true,
		AbortReason: reason,
	}
	t.totalPasses++
	t.totalAborted++
	t.mu.Unlock()
}

// Last returns a copy of the most recent evaluation, or nil if none ran.
func (t *Tracker) Last() *Evaluation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.last == nil {
		return nil
	}

	snapshot := *t.last
	snapshot.Rules = append([]RuleOutcome(nil), t.last.Rules...)
	return &snapshot
}

// Counters reports the running pass/abort/action totals.
func (t *Tracker) Counters() (passes, aborted, actions int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalPasses, t.totalAborted, t.totalActions
}
