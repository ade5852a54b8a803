// Package state persists workflow executions across process restarts:
// a WorkflowState row per execution, a StepState per declared step, and
// an append-only Checkpoint trail used to resume a partially-completed
// workflow.
//
// Grounded in _examples/original_source/crates/llm-orchestrator-state/src/models.rs
// and traits.rs.
package state

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the lifecycle status of a persisted workflow
// execution, distinct from engine.StepStatus: this enum additionally
// carries Paused, which only ever exists at rest in the state store.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// StepStatus is the lifecycle status of one step within a persisted
// workflow state row.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// WorkflowState is a snapshot of one workflow execution, persisted
// after every scheduler run so a crashed process can resume or report
// on it.
type WorkflowState struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	WorkflowID  string                 `db:"workflow_id" json:"workflow_id"`
	WorkflowName string                `db:"workflow_name" json:"workflow_name"`
	Status      WorkflowStatus         `db:"status" json:"status"`
	UserID      *string                `db:"user_id" json:"user_id,omitempty"`
	StartedAt   time.Time              `db:"started_at" json:"started_at"`
	UpdatedAt   time.Time              `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
	Inputs      map[string]interface{} `db:"-" json:"inputs"`
	Outputs     map[string]interface{} `db:"-" json:"outputs"`
	Error       *string                `db:"error" json:"error,omitempty"`
	Steps       map[string]StepState   `db:"-" json:"steps"`
}

// NewWorkflowState creates a Pending workflow state seeded with inputs.
func NewWorkflowState(workflowID, workflowName string, userID *string, inputs map[string]interface{}) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		ID:           uuid.New(),
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		Status:       WorkflowPending,
		UserID:       userID,
		StartedAt:    now,
		UpdatedAt:    now,
		Inputs:       inputs,
		Outputs:      map[string]interface{}{},
		Steps:        map[string]StepState{},
	}
}

// MarkRunning transitions the state to Running.
func (w *WorkflowState) MarkRunning() {
	w.Status = WorkflowRunning
	w.UpdatedAt = time.Now().UTC()
}

// MarkCompleted transitions the state to Completed.
func (w *WorkflowState) MarkCompleted() {
	w.Status = WorkflowCompleted
	now := time.Now().UTC()
	w.UpdatedAt = now
	w.CompletedAt = &now
}

// MarkFailed transitions the state to Failed, recording the error.
func (w *WorkflowState) MarkFailed(err string) {
	w.Status = WorkflowFailed
	now := time.Now().UTC()
	w.UpdatedAt = now
	w.CompletedAt = &now
	w.Error = &err
}

// IsActive reports whether the workflow is still eligible for resume:
// Pending, Running, or Paused.
func (w *WorkflowState) IsActive() bool {
	switch w.Status {
	case WorkflowRunning, WorkflowPending, WorkflowPaused:
		return true
	default:
		return false
	}
}

// StepState is the persisted lifecycle record of one step within a
// WorkflowState.
type StepState struct {
	StepID      string                 `db:"step_id" json:"step_id"`
	Status      StepStatus             `db:"status" json:"status"`
	StartedAt   *time.Time             `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
	Outputs     map[string]interface{} `db:"-" json:"outputs"`
	Error       *string                `db:"error" json:"error,omitempty"`
	RetryCount  int                    `db:"retry_count" json:"retry_count"`
}

// NewStepState creates a Pending step state.
func NewStepState(stepID string) StepState {
	return StepState{StepID: stepID, Status: StepPending, Outputs: map[string]interface{}{}}
}

// MarkRunning transitions the step to Running.
func (s *StepState) MarkRunning() {
	s.Status = StepRunning
	now := time.Now().UTC()
	s.StartedAt = &now
}

// MarkCompleted transitions the step to Completed with outputs.
func (s *StepState) MarkCompleted(outputs map[string]interface{}) {
	s.Status = StepCompleted
	now := time.Now().UTC()
	s.CompletedAt = &now
	s.Outputs = outputs
}

// MarkFailed transitions the step to Failed, recording the error.
func (s *StepState) MarkFailed(err string) {
	s.Status = StepFailed
	now := time.Now().UTC()
	s.CompletedAt = &now
	s.Error = &err
}

// IncrementRetry records one more retry attempt.
func (s *StepState) IncrementRetry() {
	s.RetryCount++
}

// CheckpointSnapshot is the durable resume payload: just enough of the
// execution context and completed-step set to rebuild a Scheduler
// without redispatching finished work. spec.md §3 names the snapshot's
// shape directly as {inputs, outputs, completed_steps}; the original
// Rust implementation's create_checkpoint instead nests a full
// WorkflowState (workflow/context/completed_steps) while its own
// restore_from_checkpoint deserializes the snapshot as a WorkflowState,
// an internal inconsistency the specification resolves in our favor.
// See DESIGN.md for the Open Question record.
type CheckpointSnapshot struct {
	Inputs         map[string]interface{} `json:"inputs"`
	Outputs        map[string]interface{} `json:"outputs"`
	CompletedSteps []string                `json:"completed_steps"`
}

// Checkpoint is one point-in-time, immutable recovery record.
type Checkpoint struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	WorkflowStateID uuid.UUID          `db:"workflow_state_id" json:"workflow_state_id"`
	StepID          string             `db:"step_id" json:"step_id"`
	Timestamp       time.Time          `db:"timestamp" json:"timestamp"`
	Snapshot        CheckpointSnapshot `db:"-" json:"snapshot"`
}

// NewCheckpoint creates a checkpoint for workflowStateID at stepID's
// boundary.
func NewCheckpoint(workflowStateID uuid.UUID, stepID string, snapshot CheckpointSnapshot) Checkpoint {
	return Checkpoint{
		ID:              uuid.New(),
		WorkflowStateID: workflowStateID,
		StepID:          stepID,
		Timestamp:       time.Now().UTC(),
		Snapshot:        snapshot,
	}
}
