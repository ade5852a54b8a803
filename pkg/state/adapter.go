package state

import (
	"context"

	"github.com/google/uuid"

	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/engine"
)

// EngineAdapter implements engine.StateStore on top of a StateStore,
// translating between the engine's minimal persistence surface (which
// knows nothing of this package, to keep pkg/state the only place that
// depends on a SQL driver) and the richer row-oriented StateStore
// contract this package defines.
type EngineAdapter struct {
	Store      StateStore
	WorkflowID string
	UserID     *string
}

// NewEngineAdapter binds a StateStore to one workflow definition's id,
// so SaveWorkflowState/RestoreFromCheckpoint calls through the engine
// façade land on the right row.
func NewEngineAdapter(store StateStore, workflowID string) *EngineAdapter {
	return &EngineAdapter{Store: store, WorkflowID: workflowID}
}

var _ engine.StateStore = (*EngineAdapter)(nil)

// SaveWorkflowState converts an engine snapshot into a WorkflowState row
// and upserts it.
func (a *EngineAdapter) SaveWorkflowState(ctx context.Context, snap engine.WorkflowStateSnapshot) error {
	ws := &WorkflowState{
		ID:           snap.ID,
		WorkflowID:   snap.WorkflowID,
		WorkflowName: snap.Name,
		Status:       WorkflowStatus(snap.Status),
		UserID:       a.UserID,
		StartedAt:    snap.StartedAt,
		UpdatedAt:    snap.UpdatedAt,
		CompletedAt:  snap.CompletedAt,
		Inputs:       snap.Inputs,
		Outputs:      snap.Outputs,
		Steps:        make(map[string]StepState, len(snap.Steps)),
	}
	if snap.Error != "" {
		errStr := snap.Error
		ws.Error = &errStr
	}
	for id, res := range snap.Steps {
		ss := StepState{
			StepID:     id,
			Status:     StepStatus(res.Status),
			Outputs:    res.Outputs,
			RetryCount: 0,
		}
		if res.Error != "" {
			errStr := res.Error
			ss.Error = &errStr
		}
		ws.Steps[id] = ss
	}
	return a.Store.SaveWorkflowState(ctx, ws)
}

// CreateCheckpoint converts an engine checkpoint snapshot into a
// Checkpoint row and persists it, pruning old checkpoints per
// DefaultCheckpointRetention.
func (a *EngineAdapter) CreateCheckpoint(ctx context.Context, snap engine.CheckpointSnapshot) error {
	cp := NewCheckpoint(snap.WorkflowStateID, snap.StepID, CheckpointSnapshot{
		Inputs:         snap.Inputs,
		Outputs:        snap.Outputs,
		CompletedSteps: snap.CompletedSteps,
	})
	cp.ID = snap.ID
	cp.Timestamp = snap.Timestamp
	if err := a.Store.CreateCheckpoint(ctx, &cp); err != nil {
		return err
	}
	return a.Store.CleanupOldCheckpoints(ctx, snap.WorkflowStateID, DefaultCheckpointRetention)
}

// RestoreFromCheckpoint loads a checkpoint and reconstructs the step
// result map the engine façade needs to seed a resumed Scheduler: every
// completed step id maps to a Completed StepResult carrying its
// recorded outputs.
func (a *EngineAdapter) RestoreFromCheckpoint(ctx context.Context, checkpointID uuid.UUID) (engine.WorkflowStateSnapshot, error) {
	cp, err := a.Store.RestoreFromCheckpoint(ctx, checkpointID)
	if err != nil {
		return engine.WorkflowStateSnapshot{}, err
	}

	steps := make(map[string]engine.StepResult, len(cp.Snapshot.CompletedSteps))
	for _, id := range cp.Snapshot.CompletedSteps {
		outputs, _ := cp.Snapshot.Outputs[id].(map[string]interface{})
		steps[id] = engine.StepResult{
			StepID:  id,
			Status:  engine.StepCompleted,
			Outputs: outputs,
		}
	}

	return engine.WorkflowStateSnapshot{
		ID:         cp.WorkflowStateID,
		WorkflowID: a.WorkflowID,
		Inputs:     cp.Snapshot.Inputs,
		Outputs:    cp.Snapshot.Outputs,
		Steps:      steps,
	}, nil
}

// ListActiveWorkflows converts every resumable row into its engine
// snapshot form.
func (a *EngineAdapter) ListActiveWorkflows(ctx context.Context) ([]engine.WorkflowStateSnapshot, error) {
	active, err := a.Store.ListActiveWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.WorkflowStateSnapshot, 0, len(active))
	for _, ws := range active {
		snap := engine.WorkflowStateSnapshot{
			ID:          ws.ID,
			WorkflowID:  ws.WorkflowID,
			Name:        ws.WorkflowName,
			Status:      string(ws.Status),
			StartedAt:   ws.StartedAt,
			UpdatedAt:   ws.UpdatedAt,
			CompletedAt: ws.CompletedAt,
			Inputs:      ws.Inputs,
			Outputs:     ws.Outputs,
		}
		if ws.UserID != nil {
			snap.UserID = *ws.UserID
		}
		if ws.Error != nil {
			snap.Error = *ws.Error
		}
		out = append(out, snap)
	}
	return out, nil
}
