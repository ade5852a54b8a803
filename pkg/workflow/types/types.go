// Package types defines the workflow schema: the declarative shape a
// workflow document parses into, shared by the DAG builder, the
// execution context's template renderer, and the step runtime.
package types

import (
	"time"

	"github.com/google/uuid"
)

// StepType is the closed set of step kinds a workflow may declare.
type StepType string

const (
	StepTypeLLM          StepType = "llm"
	StepTypeEmbed        StepType = "embed"
	StepTypeVectorSearch StepType = "vector_search"
	StepTypeTransform    StepType = "transform"
	StepTypeAction       StepType = "action"
	StepTypeParallel     StepType = "parallel"
	StepTypeBranch       StepType = "branch"
)

// BackoffStrategy selects how RetryPolicy computes the delay between
// attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffConstant    BackoffStrategy = "constant"
)

// DefaultRetryPolicy is applied to a step that declares no retry override.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		Backoff:      BackoffExponential,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// RetryPolicy configures the retry executor for a single step. Delay
// for attempt n (0-indexed) is min(initial * multiplier^n, max_delay),
// ±25% jitter when Jitter is set (spec.md §3).
type RetryPolicy struct {
	MaxAttempts  uint32          `yaml:"max_attempts" validate:"gte=0"`
	Backoff      BackoffStrategy `yaml:"backoff" validate:"omitempty,oneof=exponential linear constant"`
	InitialDelay time.Duration   `yaml:"-"`
	Multiplier   float64         `yaml:"-"`
	MaxDelay     time.Duration   `yaml:"-"`
	Jitter       bool            `yaml:"jitter"`

	// InitialDelayMs / MaxDelayMs are the wire representation (the
	// workflow document expresses durations in milliseconds); the
	// Duration fields above are what the rest of the engine consumes.
	// MultiplierOverride is the optional wire-level "multiplier" key;
	// spec.md §6's retry sub-record does not list it among the
	// recognized keys (only max_attempts/backoff/initial_delay_ms/
	// max_delay_ms), so it is accepted but not required — see
	// DESIGN.md's Open Questions for this ambiguity.
	InitialDelayMs     uint64   `yaml:"initial_delay_ms"`
	MaxDelayMs         uint64   `yaml:"max_delay_ms"`
	MultiplierOverride *float64 `yaml:"multiplier,omitempty"`
}

// Normalize fills InitialDelay/MaxDelay from the millisecond wire fields
// and applies defaults for zero values, mirroring the Rust source's
// serde field-level defaults.
func (p *RetryPolicy) Normalize() {
	if p.MaxAttempts == 0 && p.InitialDelayMs == 0 && p.MaxDelayMs == 0 && p.Backoff == "" && p.MultiplierOverride == nil {
		def := DefaultRetryPolicy()
		*p = def
		return
	}
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
	if p.InitialDelayMs == 0 {
		p.InitialDelayMs = 100
	}
	if p.MaxDelayMs == 0 {
		p.MaxDelayMs = 30000
	}
	p.InitialDelay = time.Duration(p.InitialDelayMs) * time.Millisecond
	p.MaxDelay = time.Duration(p.MaxDelayMs) * time.Millisecond
	switch {
	case p.MultiplierOverride != nil:
		p.Multiplier = *p.MultiplierOverride
	case p.Multiplier == 0:
		p.Multiplier = 2.0
	}
}

// IsEnabled reports whether the policy permits at least one retry.
func (p RetryPolicy) IsEnabled() bool {
	return p.MaxAttempts > 0
}

// StepConfig is the tagged-sum-type payload of a Step. Exactly one
// concrete type below is assigned per Step, chosen by StepType; the
// runtime dispatches on the Step's Type field, never on the dynamic
// type of Config (see SPEC_FULL.md Design Notes addenda).
type StepConfig interface {
	stepConfig()
}

// LLMStepConfig configures an LLM completion step.
type LLMStepConfig struct {
	Provider    string                 `yaml:"provider" validate:"required"`
	Model       string                 `yaml:"model" validate:"required"`
	Prompt      string                 `yaml:"prompt" validate:"required"`
	System      string                 `yaml:"system,omitempty"`
	Temperature *float64               `yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *uint32                `yaml:"max_tokens,omitempty"`
	Extra       map[string]interface{} `yaml:"-"`
}

func (LLMStepConfig) stepConfig() {}

// EmbedStepConfig configures an embedding-generation step.
type EmbedStepConfig struct {
	Provider   string `yaml:"provider" validate:"required"`
	Model      string `yaml:"model" validate:"required"`
	Input      string `yaml:"input" validate:"required"`
	Dimensions *int   `yaml:"dimensions,omitempty"`
	BatchSize  *int   `yaml:"batch_size,omitempty"`
}

func (EmbedStepConfig) stepConfig() {}

// VectorSearchConfig configures a vector database search step.
type VectorSearchConfig struct {
	Database        string      `yaml:"database" validate:"required"`
	Index           string      `yaml:"index" validate:"required"`
	Query           string      `yaml:"query" validate:"required"`
	TopK            int         `yaml:"top_k"`
	Filter          interface{} `yaml:"filter,omitempty"`
	Namespace       string      `yaml:"namespace,omitempty"`
	IncludeMetadata bool        `yaml:"include_metadata"`
	IncludeVectors  bool        `yaml:"include_vectors"`
}

func (VectorSearchConfig) stepConfig() {}

// TransformConfig configures a pure data-transformation step.
type TransformConfig struct {
	Function string                 `yaml:"function" validate:"required"`
	Inputs   []string               `yaml:"inputs,omitempty"`
	Params   map[string]interface{} `yaml:"-"`
}

func (TransformConfig) stepConfig() {}

// ActionConfig configures a side-effecting action step.
type ActionConfig struct {
	Action string                 `yaml:"action" validate:"required"`
	Params map[string]interface{} `yaml:"-"`
}

func (ActionConfig) stepConfig() {}

// ParallelConfig configures a nested-step parallel group.
type ParallelConfig struct {
	Tasks          []Step `yaml:"tasks" validate:"required,dive"`
	MaxConcurrency *int   `yaml:"max_concurrency,omitempty"`
}

func (ParallelConfig) stepConfig() {}

// BranchConfig configures a conditional branch over nested step lists.
type BranchConfig struct {
	Condition string            `yaml:"condition" validate:"required"`
	Branches  map[string][]Step `yaml:"branches" validate:"required"`
}

func (BranchConfig) stepConfig() {}

// Step is a single node in a workflow's dependency graph.
type Step struct {
	ID            string       `yaml:"id" validate:"required"`
	Type          StepType     `yaml:"type" validate:"required,oneof=llm embed vector_search transform action parallel branch"`
	DependsOn     []string     `yaml:"depends_on,omitempty"`
	Condition     string       `yaml:"condition,omitempty"`
	Config        StepConfig   `yaml:"-"`
	Output        []string     `yaml:"output,omitempty"`
	TimeoutSec    *uint64      `yaml:"timeout_seconds,omitempty"`
	Retry         *RetryPolicy `yaml:"retry,omitempty"`
}

// Timeout returns the step's declared timeout, or zero if none was set.
func (s *Step) Timeout() time.Duration {
	if s.TimeoutSec == nil {
		return 0
	}
	return time.Duration(*s.TimeoutSec) * time.Second
}

// RetryPolicyOrDefault returns the step's retry override, normalized, or
// the engine-wide default policy when the step declares none.
func (s *Step) RetryPolicyOrDefault() RetryPolicy {
	if s.Retry == nil {
		return DefaultRetryPolicy()
	}
	p := *s.Retry
	p.Normalize()
	return p
}

// Workflow is a complete, declaratively-defined DAG of steps.
type Workflow struct {
	ID             uuid.UUID              `yaml:"id"`
	Name           string                 `yaml:"name" validate:"required"`
	Version        string                 `yaml:"version"`
	Description    string                 `yaml:"description,omitempty"`
	Steps          []Step                 `yaml:"steps" validate:"required,min=1,dive"`
	TimeoutSeconds *uint64                `yaml:"timeout_seconds,omitempty"`
	Metadata       map[string]interface{} `yaml:"metadata,omitempty"`
}

// New creates an empty workflow with a fresh identifier and default version.
func New(name string) *Workflow {
	return &Workflow{
		ID:      uuid.New(),
		Name:    name,
		Version: "1.0",
	}
}

// Timeout returns the workflow-level timeout, defaulting to one hour per
// the engine façade's documented default (spec.md §4.H).
func (w *Workflow) Timeout() time.Duration {
	if w.TimeoutSeconds == nil {
		return time.Hour
	}
	return time.Duration(*w.TimeoutSeconds) * time.Second
}

// GetStep returns the step with the given id, if declared.
func (w *Workflow) GetStep(id string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// StepIDs returns every declared step id, in declaration order.
func (w *Workflow) StepIDs() []string {
	ids := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		ids[i] = s.ID
	}
	return ids
}
