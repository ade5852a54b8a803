package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/health"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/providers"
	execcontext "github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/context"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/dag"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

// StateStore is the subset of pkg/state's StateStore interface the
// façade consumes, declared locally to keep the engine package free of
// a compile-time dependency on pkg/state's backend implementations
// (spec.md §4.H: save_state / create_checkpoint / restore_from_checkpoint
// / list_resumable_workflows). pkg/state.EngineAdapter implements it on
// top of pkg/state's own, row-oriented StateStore interface.
type StateStore interface {
	SaveWorkflowState(ctx context.Context, state WorkflowStateSnapshot) error
	CreateCheckpoint(ctx context.Context, checkpoint CheckpointSnapshot) error
	RestoreFromCheckpoint(ctx context.Context, checkpointID uuid.UUID) (WorkflowStateSnapshot, error)
	ListActiveWorkflows(ctx context.Context) ([]WorkflowStateSnapshot, error)
}

// WorkflowStateSnapshot and CheckpointSnapshot mirror the shapes
// pkg/state.WorkflowState / pkg/state.Checkpoint expose; they are
// redeclared here (rather than imported) to avoid a dependency cycle
// between pkg/state (which persists engine step results) and
// pkg/workflow/engine (which produces them). pkg/state's types convert
// to/from these at its package boundary.
type WorkflowStateSnapshot struct {
	ID          uuid.UUID
	WorkflowID  string
	Name        string
	Status      string
	UserID      string
	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Inputs      map[string]interface{}
	Outputs     map[string]interface{}
	Error       string
	Steps       map[string]StepResult
}

// CheckpointSnapshot is the immutable resumable-recovery snapshot
// captured at one step boundary.
type CheckpointSnapshot struct {
	ID              uuid.UUID
	WorkflowStateID uuid.UUID
	StepID          string
	Timestamp       time.Time
	Inputs          map[string]interface{}
	Outputs         map[string]interface{}
	CompletedSteps  []string
}

// Engine is the public façade composing the DAG builder, execution
// context, retry executor, provider registries, scheduler, and step
// runtime into the two public operations spec.md §4.H names: Execute
// and the resume surface. Grounded in executor.rs's WorkflowExecutor
// plus executor_state.rs's persistence extensions.
type Engine struct {
	workflow *types.Workflow
	graph    *dag.WorkflowDAG
	ectx     *execcontext.Context

	maxConcurrency int

	llmProviders       *providers.Registry[providers.LLMProvider]
	embeddingProviders *providers.Registry[providers.EmbeddingProvider]
	vectorDBs          *providers.Registry[providers.VectorSearchProvider]
	transforms         *providers.Registry[TransformFunc]
	actions            *providers.Registry[ActionFunc]

	preResults map[string]StepResult

	log *logrus.Entry
}

// New validates workflow, builds its DAG, and seeds a fresh execution
// context with inputs.
func New(workflow *types.Workflow, inputs map[string]interface{}) (*Engine, error) {
	if err := workflow.Validate(); err != nil {
		return nil, err
	}
	graph, err := dag.FromWorkflow(workflow)
	if err != nil {
		return nil, err
	}
	return &Engine{
		workflow:           workflow,
		graph:              graph,
		ectx:               execcontext.New(inputs),
		llmProviders:       providers.NewRegistry[providers.LLMProvider](),
		embeddingProviders: providers.NewRegistry[providers.EmbeddingProvider](),
		vectorDBs:          providers.NewRegistry[providers.VectorSearchProvider](),
		transforms:         providers.NewRegistry[TransformFunc](),
		actions:            providers.NewRegistry[ActionFunc](),
		log:                logrus.NewEntry(logrus.StandardLogger()).WithField("workflow", workflow.Name),
	}, nil
}

// WithMaxConcurrency bounds the number of steps the scheduler dispatches
// at once (0 means unlimited).
func (e *Engine) WithMaxConcurrency(c int) *Engine {
	e.maxConcurrency = c
	return e
}

// WithProvider registers an LLMProvider under name.
func (e *Engine) WithProvider(name string, p providers.LLMProvider) *Engine {
	e.llmProviders.Register(name, p)
	return e
}

// WithEmbeddingProvider registers an EmbeddingProvider under name.
func (e *Engine) WithEmbeddingProvider(name string, p providers.EmbeddingProvider) *Engine {
	e.embeddingProviders.Register(name, p)
	return e
}

// WithVectorDB registers a VectorSearchProvider under name.
func (e *Engine) WithVectorDB(name string, p providers.VectorSearchProvider) *Engine {
	e.vectorDBs.Register(name, p)
	return e
}

// WithTransform registers a named Transform dispatch function.
func (e *Engine) WithTransform(name string, fn TransformFunc) *Engine {
	e.transforms.Register(name, fn)
	return e
}

// WithAction registers a named Action dispatch function.
func (e *Engine) WithAction(name string, fn ActionFunc) *Engine {
	e.actions.Register(name, fn)
	return e
}

// WithLogger overrides the façade's logrus entry (e.g. to bind
// request-scoped fields).
func (e *Engine) WithLogger(log *logrus.Entry) *Engine {
	if log != nil {
		e.log = log
	}
	return e
}

// Context exposes the engine's execution context, for callers that
// need to render templates against it outside of step execution (e.g.
// test assertions, state-store serialization).
func (e *Engine) Context() *execcontext.Context { return e.ectx }

// Workflow returns the validated workflow this engine executes.
func (e *Engine) Workflow() *types.Workflow { return e.workflow }

// Execute runs the workflow under its overall timeout, returning a
// complete result map with one entry per declared step. A failing step
// does not abort the workflow: dependency edges are structural, so its
// dependents are still dispatched once it reaches a terminal status, and
// the scheduler records a result (Completed, Failed, or Skipped) for
// every step it walks in the DAG's execution order.
func (e *Engine) Execute(ctx context.Context) (map[string]StepResult, error) {
	timeout := e.workflow.Timeout()
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.log.WithField("max_concurrency", e.maxConcurrency).Info("starting workflow execution")

	results, err := e.executeSteps(tctx, e.workflow.Steps, e.maxConcurrency, e.preResults)
	if tctx.Err() == context.DeadlineExceeded {
		e.log.Warn("workflow timed out")
		return results, apperrors.NewTimeoutError(e.workflow.Name)
	}
	if err != nil && err != context.Canceled {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Status == StepFailed {
			failed++
		}
	}
	if failed > 0 {
		e.log.WithField("failed_steps", failed).Warn("workflow completed with failed steps")
	} else {
		e.log.Info("workflow completed successfully")
	}
	return results, nil
}

// executeSteps builds a runtime+scheduler pair for one flat list of
// steps (the top-level workflow, or a Parallel/Branch step's nested
// list) and runs it to completion. Nested dispatches share the engine's
// execution context and provider registries but get their own DAG and
// scheduler, since a Parallel/Branch's nested steps are their own
// dependency graph.
func (e *Engine) executeSteps(ctx context.Context, steps []types.Step, maxConcurrency int, preResults map[string]StepResult) (map[string]StepResult, error) {
	subWorkflow := &types.Workflow{Name: e.workflow.Name, Steps: steps}
	graph, err := dag.FromWorkflow(subWorkflow)
	if err != nil {
		return nil, err
	}

	runtime := NewRuntime(e.ectx, e.llmProviders, e.embeddingProviders, e.vectorDBs, e.transforms, e.actions, e.dispatchNested, e.log)
	sched := NewScheduler(graph, runtime, maxConcurrency, preResults, e.log)
	return sched.Execute(ctx, steps)
}

func (e *Engine) dispatchNested(ctx context.Context, steps []types.Step, maxConcurrency int) (map[string]StepResult, error) {
	return e.executeSteps(ctx, steps, maxConcurrency, nil)
}

// Resume reseeds the engine's context with the outputs of a checkpoint's
// restored steps (inputs are left as constructed) and pre-populates the scheduler's completed set so restored
// steps are not redispatched, then runs Execute. Grounded in
// executor_state.rs's restore_from_checkpoint plus spec.md §4.H's
// resume contract.
func (e *Engine) Resume(ctx context.Context, store StateStore, checkpointID uuid.UUID) (map[string]StepResult, error) {
	snap, err := store.RestoreFromCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to restore from checkpoint")
	}

	// Inputs are write-once at construction; a resumed engine is built
	// fresh via NewFromSnapshot by the caller, so here we only need to
	// restore outputs and the completed set onto this engine.
	preResults := make(map[string]StepResult, len(snap.Steps))
	for id, res := range snap.Steps {
		e.ectx.SetOutput(id, res.Outputs)
		preResults[id] = res
	}
	e.preResults = preResults

	e.log.WithField("completed_steps", len(preResults)).Info("resuming workflow from checkpoint")
	return e.Execute(ctx)
}

// SaveState builds a WorkflowStateSnapshot from the engine's current
// context and step results and persists it through store, returning the
// new state's id.
func (e *Engine) SaveState(ctx context.Context, store StateStore, userID string, results map[string]StepResult) (uuid.UUID, error) {
	status := "running"
	hasFailure := false
	allTerminal := len(results) == len(e.workflow.Steps)
	for _, r := range results {
		if r.Status == StepFailed {
			hasFailure = true
		}
		if !r.Status.Terminal() {
			allTerminal = false
		}
	}
	switch {
	case hasFailure:
		status = "failed"
	case allTerminal:
		status = "completed"
	}

	now := time.Now().UTC()
	snap := WorkflowStateSnapshot{
		ID:         uuid.New(),
		WorkflowID: e.workflow.ID.String(),
		Name:       e.workflow.Name,
		Status:     status,
		UserID:     userID,
		StartedAt:  now,
		UpdatedAt:  now,
		Inputs:     e.ectx.AllInputs(),
		Outputs:    e.ectx.AllOutputs(),
		Steps:      results,
	}
	if status != "running" {
		snap.CompletedAt = &now
	}

	if err := store.SaveWorkflowState(ctx, snap); err != nil {
		return uuid.Nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to save workflow state")
	}
	return snap.ID, nil
}

// CreateCheckpoint captures an immutable snapshot of the engine's
// current context and completed-step set, bound to workflowStateID, at
// stepID's boundary.
func (e *Engine) CreateCheckpoint(ctx context.Context, store StateStore, workflowStateID uuid.UUID, stepID string, results map[string]StepResult) (uuid.UUID, error) {
	completed := make([]string, 0, len(results))
	for id, r := range results {
		if r.Status == StepCompleted {
			completed = append(completed, id)
		}
	}
	cp := CheckpointSnapshot{
		ID:              uuid.New(),
		WorkflowStateID: workflowStateID,
		StepID:          stepID,
		Timestamp:       time.Now().UTC(),
		Inputs:          e.ectx.AllInputs(),
		Outputs:         e.ectx.AllOutputs(),
		CompletedSteps:  completed,
	}
	if err := store.CreateCheckpoint(ctx, cp); err != nil {
		return uuid.Nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to create checkpoint")
	}
	return cp.ID, nil
}

// ListResumableWorkflows returns every workflow state in a
// non-terminal (Pending, Running, Paused) status.
func ListResumableWorkflows(ctx context.Context, store StateStore) ([]WorkflowStateSnapshot, error) {
	states, err := store.ListActiveWorkflows(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to list active workflows")
	}
	return states, nil
}

// Health aggregates HealthCheck results across every registered LLM,
// embedding, and vector-search provider through a health.Aggregator it
// builds per call. A StateStore is not part of this probe.
// This does not add an HTTP surface — see SPEC_FULL.md's Supplemented
// Features section.
func (e *Engine) Health(ctx context.Context, timeout time.Duration) health.CheckResult {
	agg := health.NewAggregator(e.log)
	for name, p := range e.llmProviders.All() {
		agg.Register("llm:"+name, p)
	}
	for name, p := range e.embeddingProviders.All() {
		agg.Register("embedding:"+name, p)
	}
	for name, p := range e.vectorDBs.All() {
		agg.Register("vectordb:"+name, p)
	}
	return agg.Check(ctx, timeout)
}

// NewFromSnapshot constructs a fresh engine from a persisted workflow
// plus a restored snapshot's inputs, seeding the context with each
// restored step's outputs and the scheduler's completed set with those
// steps, so Execute runs only the steps not yet completed.
func NewFromSnapshot(workflow *types.Workflow, snap WorkflowStateSnapshot) (*Engine, error) {
	eng, err := New(workflow, snap.Inputs)
	if err != nil {
		return nil, fmt.Errorf("rebuilding engine from snapshot: %w", err)
	}
	preResults := make(map[string]StepResult, len(snap.Steps))
	for id, res := range snap.Steps {
		eng.ectx.SetOutput(id, res.Outputs)
		preResults[id] = res
	}
	eng.preResults = preResults
	return eng, nil
}
