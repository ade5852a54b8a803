package types

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
)

// ToYAML serializes the workflow back to its YAML lexical form. Round
// tripping through FromYAML/ToYAML/FromYAML preserves every declared
// field and default (spec.md §8 round-trip laws).
func (w *Workflow) ToYAML() ([]byte, error) {
	doc, err := w.toDoc()
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, apperrors.NewSerializationError(err)
	}
	return out, nil
}

// ToJSON serializes the workflow to its JSON lexical form.
func (w *Workflow) ToJSON() ([]byte, error) {
	doc, err := w.toDoc()
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperrors.NewSerializationError(err)
	}
	return out, nil
}

func (w *Workflow) toDoc() (map[string]interface{}, error) {
	doc := map[string]interface{}{
		"id":      w.ID.String(),
		"name":    w.Name,
		"version": w.Version,
	}
	if w.Description != "" {
		doc["description"] = w.Description
	}
	if w.TimeoutSeconds != nil {
		doc["timeout_seconds"] = *w.TimeoutSeconds
	}
	if len(w.Metadata) > 0 {
		doc["metadata"] = w.Metadata
	}
	steps := make([]interface{}, len(w.Steps))
	for i, s := range w.Steps {
		sd, err := stepToDoc(s)
		if err != nil {
			return nil, err
		}
		steps[i] = sd
	}
	doc["steps"] = steps
	return doc, nil
}

func stepToDoc(s Step) (map[string]interface{}, error) {
	doc := map[string]interface{}{
		"id":   s.ID,
		"type": string(s.Type),
	}
	if len(s.DependsOn) > 0 {
		doc["depends_on"] = s.DependsOn
	}
	if s.Condition != "" {
		doc["condition"] = s.Condition
	}
	if len(s.Output) > 0 {
		doc["output"] = s.Output
	}
	if s.TimeoutSec != nil {
		doc["timeout_seconds"] = *s.TimeoutSec
	}
	if s.Retry != nil {
		retryDoc := map[string]interface{}{
			"max_attempts":     s.Retry.MaxAttempts,
			"backoff":          string(s.Retry.Backoff),
			"initial_delay_ms": s.Retry.InitialDelayMs,
			"max_delay_ms":     s.Retry.MaxDelayMs,
			"jitter":           s.Retry.Jitter,
		}
		if s.Retry.MultiplierOverride != nil {
			retryDoc["multiplier"] = *s.Retry.MultiplierOverride
		}
		doc["retry"] = retryDoc
	}

	switch cfg := s.Config.(type) {
	case LLMStepConfig:
		doc["provider"] = cfg.Provider
		doc["model"] = cfg.Model
		doc["prompt"] = cfg.Prompt
		if cfg.System != "" {
			doc["system"] = cfg.System
		}
		if cfg.Temperature != nil {
			doc["temperature"] = *cfg.Temperature
		}
		if cfg.MaxTokens != nil {
			doc["max_tokens"] = *cfg.MaxTokens
		}
		for k, v := range cfg.Extra {
			doc[k] = v
		}
	case EmbedStepConfig:
		doc["provider"] = cfg.Provider
		doc["model"] = cfg.Model
		doc["input"] = cfg.Input
		if cfg.Dimensions != nil {
			doc["dimensions"] = *cfg.Dimensions
		}
		if cfg.BatchSize != nil {
			doc["batch_size"] = *cfg.BatchSize
		}
	case VectorSearchConfig:
		doc["database"] = cfg.Database
		doc["index"] = cfg.Index
		doc["query"] = cfg.Query
		doc["top_k"] = cfg.TopK
		if cfg.Filter != nil {
			doc["filter"] = cfg.Filter
		}
		if cfg.Namespace != "" {
			doc["namespace"] = cfg.Namespace
		}
		doc["include_metadata"] = cfg.IncludeMetadata
		doc["include_vectors"] = cfg.IncludeVectors
	case TransformConfig:
		doc["function"] = cfg.Function
		if len(cfg.Inputs) > 0 {
			doc["inputs"] = cfg.Inputs
		}
		for k, v := range cfg.Params {
			doc[k] = v
		}
	case ActionConfig:
		doc["action"] = cfg.Action
		for k, v := range cfg.Params {
			doc[k] = v
		}
	case ParallelConfig:
		tasks := make([]interface{}, len(cfg.Tasks))
		for i, t := range cfg.Tasks {
			td, err := stepToDoc(t)
			if err != nil {
				return nil, err
			}
			tasks[i] = td
		}
		doc["tasks"] = tasks
		if cfg.MaxConcurrency != nil {
			doc["max_concurrency"] = *cfg.MaxConcurrency
		}
	case BranchConfig:
		doc["condition"] = cfg.Condition
		branches := map[string]interface{}{}
		for key, steps := range cfg.Branches {
			list := make([]interface{}, len(steps))
			for i, t := range steps {
				td, err := stepToDoc(t)
				if err != nil {
					return nil, err
				}
				list[i] = td
			}
			branches[key] = list
		}
		doc["branches"] = branches
	default:
		return nil, fmt.Errorf("unknown step config type %T", cfg)
	}

	return doc, nil
}
