// Package engine composes the DAG builder, execution context, retry
// executor, and provider registries into the step runtime, the
// event-driven scheduler, and the public engine façade.
//
// Grounded in _examples/original_source/crates/llm-orchestrator-core/src/executor.go
// (renamed here to executor.rs in the retrieval pack) and
// executor_state.rs for the resume/checkpoint surface.
package engine

import (
	"encoding/json"
	"time"
)

// StepStatus is the lifecycle state of a single step within one
// execution. Transitions are monotone: Pending -> (Running ->
// {Completed | Failed}) | Skipped; no status is ever revisited.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether status is one of the three terminal states a
// step may settle into.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// StepResult is the recorded outcome of one step's execution.
type StepResult struct {
	StepID   string                 `json:"step_id"`
	Status   StepStatus             `json:"status"`
	Outputs  map[string]interface{} `json:"outputs"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"-"`
}

// DurationMs is the wire representation of Duration: the persistence
// schema and the StepResult round-trip law both encode duration in
// milliseconds.
func (r StepResult) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// stepResultJSON is the JSON envelope for StepResult, encoding Duration
// in milliseconds per spec.md §8's round-trip law.
type stepResultJSON struct {
	StepID     string                 `json:"step_id"`
	Status     StepStatus             `json:"status"`
	Outputs    map[string]interface{} `json:"outputs"`
	Error      string                 `json:"error,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

// MarshalJSON encodes Duration as whole milliseconds.
func (r StepResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepResultJSON{
		StepID:     r.StepID,
		Status:     r.Status,
		Outputs:    r.Outputs,
		Error:      r.Error,
		DurationMs: r.Duration.Milliseconds(),
	})
}

// UnmarshalJSON decodes a millisecond duration back into a time.Duration.
func (r *StepResult) UnmarshalJSON(data []byte) error {
	var aux stepResultJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.StepID = aux.StepID
	r.Status = aux.Status
	r.Outputs = aux.Outputs
	r.Error = aux.Error
	r.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}
