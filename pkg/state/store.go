package state

import (
	"context"

	"github.com/google/uuid"
)

// StateStore is the full persistence contract a workflow execution
// backend must satisfy. Grounded in
// _examples/original_source/crates/llm-orchestrator-state/src/traits.rs's
// StateStore trait.
type StateStore interface {
	// SaveWorkflowState upserts state: an existing row with the same ID
	// is replaced, along with its step states, in one transaction.
	SaveWorkflowState(ctx context.Context, state *WorkflowState) error

	// LoadWorkflowState loads a workflow state by its own id.
	LoadWorkflowState(ctx context.Context, id uuid.UUID) (*WorkflowState, error)

	// LoadWorkflowStateByWorkflowID loads the most recently updated state
	// row for a given workflow_id (a workflow definition may be executed
	// many times; this returns its latest run).
	LoadWorkflowStateByWorkflowID(ctx context.Context, workflowID string) (*WorkflowState, error)

	// ListActiveWorkflows returns every state whose status is Pending,
	// Running, or Paused, newest first.
	ListActiveWorkflows(ctx context.Context) ([]*WorkflowState, error)

	// CreateCheckpoint persists a new checkpoint and prunes older
	// checkpoints for the same workflow state beyond the retention
	// count.
	CreateCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// GetLatestCheckpoint returns the most recent checkpoint for a
	// workflow state, if any exist.
	GetLatestCheckpoint(ctx context.Context, workflowStateID uuid.UUID) (*Checkpoint, error)

	// RestoreFromCheckpoint loads the checkpoint by id and returns its
	// snapshot.
	RestoreFromCheckpoint(ctx context.Context, checkpointID uuid.UUID) (*Checkpoint, error)

	// DeleteOldStates removes terminal (Completed, Failed) state rows
	// last updated before the retention cutoff, returning the count
	// removed.
	DeleteOldStates(ctx context.Context, olderThanDays int) (int64, error)

	// CleanupOldCheckpoints prunes all but the keepLast most recent
	// checkpoints for workflowStateID.
	CleanupOldCheckpoints(ctx context.Context, workflowStateID uuid.UUID, keepLast int) error

	// HealthCheck reports whether the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// DefaultCheckpointRetention is how many checkpoints per workflow state
// the backends' CreateCheckpoint keeps when it prunes after an insert.
const DefaultCheckpointRetention = 10
