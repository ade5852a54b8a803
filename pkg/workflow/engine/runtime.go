package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/providers"
	execcontext "github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/context"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/retry"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

// TransformFunc is a registered pure data transformation a Transform
// step dispatches to by name.
type TransformFunc func(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (map[string]interface{}, error)

// ActionFunc is a registered side-effecting action an Action step
// dispatches to by name.
type ActionFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Runtime dispatches a single step to its type-specific handler,
// applying the step's timeout and retry policy and recording its
// result. Grounded in executor.rs's execute_step/execute_step_inner.
type Runtime struct {
	ectx               *execcontext.Context
	llmProviders       *providers.Registry[providers.LLMProvider]
	embeddingProviders *providers.Registry[providers.EmbeddingProvider]
	vectorDBs          *providers.Registry[providers.VectorSearchProvider]
	transforms         *providers.Registry[TransformFunc]
	actions            *providers.Registry[ActionFunc]
	dispatch           StepDispatcher
	log                *logrus.Entry
}

// StepDispatcher executes a nested list of steps through the same
// scheduling contract the top-level workflow uses; Parallel and Branch
// step types sub-dispatch through it. The façade wires this to the
// scheduler so nested steps honor dependency ordering and concurrency
// caps exactly like top-level ones.
type StepDispatcher func(ctx context.Context, steps []types.Step, maxConcurrency int) (map[string]StepResult, error)

// NewRuntime constructs a step runtime bound to a shared execution
// context and the provider/function registries the façade builds.
func NewRuntime(
	ectx *execcontext.Context,
	llmProviders *providers.Registry[providers.LLMProvider],
	embeddingProviders *providers.Registry[providers.EmbeddingProvider],
	vectorDBs *providers.Registry[providers.VectorSearchProvider],
	transforms *providers.Registry[TransformFunc],
	actions *providers.Registry[ActionFunc],
	dispatch StepDispatcher,
	log *logrus.Entry,
) *Runtime {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runtime{
		ectx:               ectx,
		llmProviders:       llmProviders,
		embeddingProviders: embeddingProviders,
		vectorDBs:          vectorDBs,
		transforms:         transforms,
		actions:            actions,
		dispatch:           dispatch,
		log:                log,
	}
}

// ShouldSkip evaluates a step's condition, if it declares one. The
// scheduler calls this before admission so a skipped step never
// consumes a concurrency slot (spec.md §4.E step 3). A condition that
// fails to render is treated as false, matching the fail-closed
// posture of the rest of the condition evaluator.
func (r *Runtime) ShouldSkip(step types.Step) bool {
	if step.Condition == "" {
		return false
	}
	ok, err := r.ectx.EvaluateCondition(step.Condition)
	if err != nil {
		r.log.WithFields(logrus.Fields{"step_id": step.ID}).WithFields(apperrors.LogFields(err)).
			Warn("condition evaluation failed; treating step as skipped")
		return true
	}
	return !ok
}

// ExecuteStep runs a single step to completion: timeout-wrapped,
// retry-wrapped dispatch by step type, recording the result either way.
// Callers are expected to have already resolved ShouldSkip.
func (r *Runtime) ExecuteStep(ctx context.Context, step types.Step) StepResult {
	start := time.Now()
	log := r.log.WithFields(logrus.Fields{"step_id": step.ID, "step_type": step.Type})

	log.Info("executing step")
	policy := step.RetryPolicyOrDefault()
	executor := retry.New(policy, log)

	runStep := func(ctx context.Context) (interface{}, error) {
		return r.dispatchByType(ctx, step)
	}

	var outputs map[string]interface{}
	var err error
	if timeout := step.Timeout(); timeout > 0 {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		var v interface{}
		v, err = executor.Execute(tctx, runStep)
		if tctx.Err() != nil && err != nil {
			err = apperrors.NewTimeoutError(step.ID)
		}
		if v != nil {
			outputs, _ = v.(map[string]interface{})
		}
	} else {
		var v interface{}
		v, err = executor.Execute(ctx, runStep)
		if v != nil {
			outputs, _ = v.(map[string]interface{})
		}
	}

	duration := time.Since(start)

	if err != nil {
		log.WithFields(apperrors.LogFields(err)).WithField("duration_ms", duration.Milliseconds()).Error("step failed")
		return StepResult{StepID: step.ID, Status: StepFailed, Outputs: map[string]interface{}{}, Error: err.Error(), Duration: duration}
	}

	if outputs == nil {
		outputs = map[string]interface{}{}
	}
	r.ectx.SetOutput(step.ID, outputs)
	log.WithField("duration_ms", duration.Milliseconds()).Info("step completed")
	return StepResult{StepID: step.ID, Status: StepCompleted, Outputs: outputs, Duration: duration}
}

func (r *Runtime) dispatchByType(ctx context.Context, step types.Step) (map[string]interface{}, error) {
	switch step.Type {
	case types.StepTypeLLM:
		return r.executeLLM(ctx, step)
	case types.StepTypeEmbed:
		return r.executeEmbed(ctx, step)
	case types.StepTypeVectorSearch:
		return r.executeVectorSearch(ctx, step)
	case types.StepTypeTransform:
		return r.executeTransform(ctx, step)
	case types.StepTypeAction:
		return r.executeAction(ctx, step)
	case types.StepTypeParallel:
		return r.executeParallel(ctx, step)
	case types.StepTypeBranch:
		return r.executeBranch(ctx, step)
	default:
		return nil, apperrors.New(apperrors.ErrorTypeInvalidStepConfig, fmt.Sprintf("unknown step type %q", step.Type))
	}
}

func (r *Runtime) executeLLM(ctx context.Context, step types.Step) (map[string]interface{}, error) {
	cfg, ok := step.Config.(types.LLMStepConfig)
	if !ok {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "expected LLM step config")
	}
	if len(step.Output) < 1 {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "LLM step must declare at least one output")
	}

	provider, perr := r.llmProviders.Get(cfg.Provider)
	if perr != nil {
		return nil, apperrors.NewProviderError(cfg.Provider, perr)
	}

	prompt, err := r.ectx.RenderTemplate(cfg.Prompt)
	if err != nil {
		return nil, err
	}
	system := ""
	if cfg.System != "" {
		system, err = r.ectx.RenderTemplate(cfg.System)
		if err != nil {
			return nil, err
		}
	}

	req := providers.CompletionRequest{
		Model:     cfg.Model,
		Prompt:    prompt,
		System:    system,
		MaxTokens: cfg.MaxTokens,
		Extra:     cfg.Extra,
	}
	if cfg.Temperature != nil {
		t := float32(*cfg.Temperature)
		req.Temperature = &t
	}

	resp, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, classifyProviderErr(cfg.Provider, err)
	}

	outputs := map[string]interface{}{step.Output[0]: resp.Text}
	if len(step.Output) >= 2 {
		outputs[step.Output[1]] = resp.Model
	}
	if len(step.Output) >= 3 && resp.TokensUsed != nil {
		outputs[step.Output[2]] = *resp.TokensUsed
	}
	if len(step.Output) >= 4 {
		outputs[step.Output[3]] = resp.Metadata
	}
	outputs["_response"] = serializeResponse(resp)
	return outputs, nil
}

func (r *Runtime) executeEmbed(ctx context.Context, step types.Step) (map[string]interface{}, error) {
	cfg, ok := step.Config.(types.EmbedStepConfig)
	if !ok {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "expected Embed step config")
	}
	if len(step.Output) < 1 {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "Embed step must declare at least one output")
	}

	provider, perr := r.embeddingProviders.Get(cfg.Provider)
	if perr != nil {
		return nil, apperrors.NewProviderError(cfg.Provider, perr)
	}

	input, err := r.ectx.RenderTemplate(cfg.Input)
	if err != nil {
		return nil, err
	}

	req := providers.EmbeddingRequest{Model: cfg.Model, Input: []string{input}, Dimensions: cfg.Dimensions}
	resp, err := provider.Embed(ctx, req)
	if err != nil {
		return nil, classifyProviderErr(cfg.Provider, err)
	}

	outputs := map[string]interface{}{}
	if len(resp.Embeddings) > 0 {
		outputs[step.Output[0]] = resp.Embeddings[0]
	}
	if len(step.Output) >= 2 {
		dims := 0
		if len(resp.Embeddings) > 0 {
			dims = len(resp.Embeddings[0])
		}
		summary := map[string]interface{}{"model": resp.Model, "dimensions": dims}
		if resp.TokensUsed != nil {
			summary["tokens_used"] = *resp.TokensUsed
		}
		outputs[step.Output[1]] = summary
	}
	outputs["_response"] = serializeResponse(resp)
	return outputs, nil
}

func (r *Runtime) executeVectorSearch(ctx context.Context, step types.Step) (map[string]interface{}, error) {
	cfg, ok := step.Config.(types.VectorSearchConfig)
	if !ok {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "expected VectorSearch step config")
	}
	if len(step.Output) < 1 {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "VectorSearch step must declare at least one output")
	}

	provider, perr := r.vectorDBs.Get(cfg.Database)
	if perr != nil {
		return nil, apperrors.NewProviderError(cfg.Database, perr)
	}

	rendered, err := r.ectx.RenderTemplate(cfg.Query)
	if err != nil {
		return nil, err
	}

	var vec []float32
	if jerr := json.Unmarshal([]byte(rendered), &vec); jerr != nil {
		// A malformed query vector is fatal for this step and
		// non-retryable: spec.md §4.D.
		return nil, apperrors.Wrapf(jerr, apperrors.ErrorTypeInvalidStepConfig,
			"failed to parse query vector as a JSON array of floats: %s", rendered)
	}

	req := providers.VectorSearchRequest{
		Index:           cfg.Index,
		Query:           vec,
		TopK:            cfg.TopK,
		Namespace:       cfg.Namespace,
		Filter:          cfg.Filter,
		IncludeMetadata: cfg.IncludeMetadata,
		IncludeVectors:  cfg.IncludeVectors,
	}
	resp, err := provider.Search(ctx, req)
	if err != nil {
		return nil, classifyProviderErr(cfg.Database, err)
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, res := range resp.Results {
		entry := map[string]interface{}{"id": res.ID, "score": res.Score}
		if res.Metadata != nil {
			entry["metadata"] = res.Metadata
		}
		if res.Vector != nil {
			entry["vector"] = res.Vector
		}
		results[i] = entry
	}

	outputs := map[string]interface{}{step.Output[0]: results}
	if len(step.Output) >= 2 {
		outputs[step.Output[1]] = map[string]interface{}{
			"count":    len(resp.Results),
			"top_k":    cfg.TopK,
			"database": cfg.Database,
			"index":    cfg.Index,
		}
	}
	outputs["_response"] = serializeResponse(resp)
	return outputs, nil
}

func (r *Runtime) executeTransform(ctx context.Context, step types.Step) (map[string]interface{}, error) {
	cfg, ok := step.Config.(types.TransformConfig)
	if !ok {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "expected Transform step config")
	}
	fn, err := r.transforms.Get(cfg.Function)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeInvalidStepConfig, fmt.Sprintf("transform function %q not registered", cfg.Function)).WithDetails(step.ID)
	}
	inputs := map[string]interface{}{}
	for _, name := range cfg.Inputs {
		if v, ok := r.ectx.GetOutput(name); ok {
			inputs[name] = v
		} else if v, ok := r.ectx.GetInput(name); ok {
			inputs[name] = v
		}
	}
	return fn(ctx, cfg.Params, inputs)
}

func (r *Runtime) executeAction(ctx context.Context, step types.Step) (map[string]interface{}, error) {
	cfg, ok := step.Config.(types.ActionConfig)
	if !ok {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "expected Action step config")
	}
	fn, err := r.actions.Get(cfg.Action)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeInvalidStepConfig, fmt.Sprintf("action %q not registered", cfg.Action)).WithDetails(step.ID)
	}
	return fn(ctx, cfg.Params)
}

func (r *Runtime) executeParallel(ctx context.Context, step types.Step) (map[string]interface{}, error) {
	cfg, ok := step.Config.(types.ParallelConfig)
	if !ok {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "expected Parallel step config")
	}
	if r.dispatch == nil {
		return nil, apperrors.New(apperrors.ErrorTypeExecutionError, "parallel step dispatch is not wired")
	}
	cap := 0
	if cfg.MaxConcurrency != nil {
		cap = *cfg.MaxConcurrency
	}
	results, err := r.dispatch(ctx, cfg.Tasks, cap)
	if err != nil {
		return nil, err
	}
	return resultsToOutputs(results), nil
}

func (r *Runtime) executeBranch(ctx context.Context, step types.Step) (map[string]interface{}, error) {
	cfg, ok := step.Config.(types.BranchConfig)
	if !ok {
		return nil, apperrors.NewInvalidStepConfigError(step.ID, "expected Branch step config")
	}
	if r.dispatch == nil {
		return nil, apperrors.New(apperrors.ErrorTypeExecutionError, "branch step dispatch is not wired")
	}
	rendered, err := r.ectx.RenderTemplate(cfg.Condition)
	if err != nil {
		return nil, err
	}
	branch, ok := cfg.Branches[rendered]
	if !ok {
		return map[string]interface{}{}, nil
	}
	results, err := r.dispatch(ctx, branch, 0)
	if err != nil {
		return nil, err
	}
	return resultsToOutputs(results), nil
}

// resultsToOutputs flattens a nested-step result map into a single
// output map keyed by step id, the shape Parallel and Branch steps
// return.
func resultsToOutputs(results map[string]StepResult) map[string]interface{} {
	out := make(map[string]interface{}, len(results))
	for id, res := range results {
		out[id] = res.Outputs
	}
	return out
}

func serializeResponse(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// classifyProviderErr wraps a raw provider error as a retryable
// ProviderError, unless the adapter already expressed non-retryable
// intent via providers.Error.
func classifyProviderErr(provider string, err error) error {
	if perr, ok := err.(*providers.Error); ok && !perr.IsRetryable() {
		return apperrors.Wrap(perr, apperrors.ErrorTypeInvalidStepConfig, perr.Error()).WithDetails(provider)
	}
	return apperrors.NewProviderError(provider, err)
}
