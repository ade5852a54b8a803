package types

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
)

var validate = validator.New()

// reservedStepKeys are the Step envelope keys; everything else in a
// step's YAML/JSON mapping is "remaining type-specific keys flattened
// into the step root" per SPEC_FULL.md §6.
var reservedStepKeys = map[string]struct{}{
	"id": {}, "type": {}, "depends_on": {}, "condition": {},
	"output": {}, "timeout_seconds": {}, "retry": {},
}

// FromYAML parses a workflow definition from its YAML lexical form.
func FromYAML(doc []byte) (*Workflow, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, apperrors.NewParseError(err, "invalid workflow YAML")
	}
	return fromRaw(raw)
}

// FromJSON parses a workflow definition from its JSON lexical form.
func FromJSON(doc []byte) (*Workflow, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, apperrors.NewParseError(err, "invalid workflow JSON")
	}
	return fromRaw(raw)
}

func fromRaw(raw map[string]interface{}) (*Workflow, error) {
	w := &Workflow{Version: "1.0"}

	if name, ok := raw["name"].(string); ok {
		w.Name = name
	} else {
		return nil, apperrors.NewValidationError("workflow is missing required key 'name'")
	}
	if idStr, ok := raw["id"].(string); ok && idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperrors.NewParseError(err, "workflow id is not a valid UUID")
		}
		w.ID = id
	} else {
		w.ID = uuid.New()
	}
	if version, ok := raw["version"].(string); ok && version != "" {
		w.Version = version
	}
	if desc, ok := raw["description"].(string); ok {
		w.Description = desc
	}
	if ts, ok := asUint64(raw["timeout_seconds"]); ok {
		w.TimeoutSeconds = &ts
	}
	if md, ok := raw["metadata"].(map[string]interface{}); ok {
		w.Metadata = md
	}

	rawSteps, ok := raw["steps"].([]interface{})
	if !ok {
		return nil, apperrors.NewValidationError("workflow is missing required key 'steps'")
	}
	steps := make([]Step, 0, len(rawSteps))
	for i, rs := range rawSteps {
		m, ok := rs.(map[string]interface{})
		if !ok {
			return nil, apperrors.NewValidationError(fmt.Sprintf("steps[%d] is not a mapping", i))
		}
		step, err := stepFromRaw(m)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	w.Steps = steps

	return w, nil
}

func stepFromRaw(m map[string]interface{}) (*Step, error) {
	step := &Step{}

	id, _ := m["id"].(string)
	if id == "" {
		return nil, apperrors.NewValidationError("step is missing required key 'id'")
	}
	step.ID = id

	typeStr, _ := m["type"].(string)
	step.Type = StepType(typeStr)

	if deps, ok := m["depends_on"].([]interface{}); ok {
		step.DependsOn = toStringSlice(deps)
	}
	if cond, ok := m["condition"].(string); ok {
		step.Condition = cond
	}
	if out, ok := m["output"].([]interface{}); ok {
		step.Output = toStringSlice(out)
	}
	if ts, ok := asUint64(m["timeout_seconds"]); ok {
		step.TimeoutSec = &ts
	}
	if rc, ok := m["retry"].(map[string]interface{}); ok {
		rp, err := retryFromRaw(rc)
		if err != nil {
			return nil, err
		}
		step.Retry = rp
	}

	extra := map[string]interface{}{}
	for k, v := range m {
		if _, reserved := reservedStepKeys[k]; !reserved {
			extra[k] = v
		}
	}

	config, err := configFromRaw(step.Type, id, extra)
	if err != nil {
		return nil, err
	}
	step.Config = config

	return step, nil
}

func configFromRaw(t StepType, stepID string, extra map[string]interface{}) (StepConfig, error) {
	switch t {
	case StepTypeLLM:
		cfg := LLMStepConfig{
			Provider: stringField(extra, "provider"),
			Model:    stringField(extra, "model"),
			Prompt:   stringField(extra, "prompt"),
			System:   stringField(extra, "system"),
		}
		if v, ok := asFloat(extra["temperature"]); ok {
			cfg.Temperature = &v
		}
		if v, ok := asUint32(extra["max_tokens"]); ok {
			cfg.MaxTokens = &v
		}
		cfg.Extra = withoutKeys(extra, "provider", "model", "prompt", "system", "temperature", "max_tokens", "stream")
		return cfg, nil

	case StepTypeEmbed:
		cfg := EmbedStepConfig{
			Provider: stringField(extra, "provider"),
			Model:    stringField(extra, "model"),
			Input:    stringField(extra, "input"),
		}
		if v, ok := asInt(extra["dimensions"]); ok {
			cfg.Dimensions = &v
		}
		if v, ok := asInt(extra["batch_size"]); ok {
			cfg.BatchSize = &v
		}
		return cfg, nil

	case StepTypeVectorSearch:
		cfg := VectorSearchConfig{
			Database:        stringField(extra, "database"),
			Index:           stringField(extra, "index"),
			Query:           stringField(extra, "query"),
			TopK:            5,
			Namespace:       stringField(extra, "namespace"),
			IncludeMetadata: true,
		}
		if v, ok := asInt(extra["top_k"]); ok {
			cfg.TopK = v
		}
		if v, ok := extra["filter"]; ok {
			cfg.Filter = v
		}
		if v, ok := extra["include_metadata"].(bool); ok {
			cfg.IncludeMetadata = v
		}
		if v, ok := extra["include_vectors"].(bool); ok {
			cfg.IncludeVectors = v
		}
		return cfg, nil

	case StepTypeTransform:
		cfg := TransformConfig{
			Function: stringField(extra, "function"),
			Params:   withoutKeys(extra, "function", "inputs"),
		}
		if inputs, ok := extra["inputs"].([]interface{}); ok {
			cfg.Inputs = toStringSlice(inputs)
		}
		return cfg, nil

	case StepTypeAction:
		cfg := ActionConfig{
			Action: stringField(extra, "action"),
			Params: withoutKeys(extra, "action"),
		}
		return cfg, nil

	case StepTypeParallel:
		cfg := ParallelConfig{}
		if tasks, ok := extra["tasks"].([]interface{}); ok {
			for _, t := range tasks {
				tm, ok := t.(map[string]interface{})
				if !ok {
					return nil, apperrors.NewInvalidStepConfigError(stepID, "parallel task is not a mapping")
				}
				sub, err := stepFromRaw(tm)
				if err != nil {
					return nil, err
				}
				cfg.Tasks = append(cfg.Tasks, *sub)
			}
		}
		if v, ok := asInt(extra["max_concurrency"]); ok {
			cfg.MaxConcurrency = &v
		}
		return cfg, nil

	case StepTypeBranch:
		cfg := BranchConfig{
			Condition: stringField(extra, "condition"),
			Branches:  map[string][]Step{},
		}
		if branches, ok := extra["branches"].(map[string]interface{}); ok {
			for key, v := range branches {
				list, ok := v.([]interface{})
				if !ok {
					return nil, apperrors.NewInvalidStepConfigError(stepID, "branch value is not a list")
				}
				var steps []Step
				for _, t := range list {
					tm, ok := t.(map[string]interface{})
					if !ok {
						return nil, apperrors.NewInvalidStepConfigError(stepID, "branch step is not a mapping")
					}
					sub, err := stepFromRaw(tm)
					if err != nil {
						return nil, err
					}
					steps = append(steps, *sub)
				}
				cfg.Branches[key] = steps
			}
		}
		return cfg, nil

	default:
		return nil, apperrors.New(apperrors.ErrorTypeInvalidStepConfig, fmt.Sprintf("unknown step type %q for step %q", t, stepID))
	}
}

func retryFromRaw(m map[string]interface{}) (*RetryPolicy, error) {
	p := &RetryPolicy{}
	if v, ok := asUint32(m["max_attempts"]); ok {
		p.MaxAttempts = uint32(v)
	}
	if backoff, ok := m["backoff"].(string); ok {
		p.Backoff = BackoffStrategy(backoff)
	}
	if v, ok := asUint64(m["initial_delay_ms"]); ok {
		p.InitialDelayMs = v
	}
	if v, ok := asUint64(m["max_delay_ms"]); ok {
		p.MaxDelayMs = v
	}
	if v, ok := asFloat(m["multiplier"]); ok {
		p.MultiplierOverride = &v
	}
	if v, ok := m["jitter"].(bool); ok {
		p.Jitter = v
	} else {
		p.Jitter = true
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	p.Normalize()
	return p, nil
}

// Validate checks structural invariants: struct-tag validation via
// go-playground/validator, plus the graph-shape invariants workflow.rs's
// `validate()` enforces (unique step ids; dependencies resolve).
func (w *Workflow) Validate() error {
	if err := validate.Struct(w); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, err.Error())
	}
	if len(w.Steps) == 0 {
		return apperrors.NewValidationError("workflow has no steps")
	}

	seen := make(map[string]struct{}, len(w.Steps))
	for _, s := range w.Steps {
		if _, dup := seen[s.ID]; dup {
			return apperrors.NewValidationError(fmt.Sprintf("duplicate step id: %s", s.ID))
		}
		seen[s.ID] = struct{}{}
	}
	for _, s := range w.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				return apperrors.NewValidationError(fmt.Sprintf("step %q depends on non-existent step %q", s.ID, dep))
			}
		}
		if err := validateStepConfig(s); err != nil {
			return err
		}
	}
	return nil
}

func validateStepConfig(s Step) error {
	if s.Config == nil {
		return apperrors.NewInvalidStepConfigError(s.ID, "missing configuration")
	}
	if err := validate.Struct(s.Config); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInvalidStepConfig, err.Error()).WithDetails(s.ID)
	}
	return nil
}

// --- small conversion helpers over loosely-typed YAML/JSON values ---

func toStringSlice(in []interface{}) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func withoutKeys(m map[string]interface{}, keys ...string) map[string]interface{} {
	excl := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		excl[k] = struct{}{}
	}
	out := map[string]interface{}{}
	for k, v := range m {
		if _, skip := excl[k]; !skip {
			out[k] = v
		}
	}
	return out
}

func asUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case int:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case uint64:
		return n, true
	case float64:
		return uint64(n), true
	default:
		return 0, false
	}
}

func asUint32(v interface{}) (uint32, bool) {
	n, ok := asUint64(v)
	return uint32(n), ok
}

func asInt(v interface{}) (int, bool) {
	n, ok := asUint64(v)
	return int(n), ok
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
