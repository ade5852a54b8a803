// Package context implements the workflow execution context: three
// independently-locked namespaces (inputs, outputs, metadata), a
// mustache-like template renderer, and a condition evaluator.
//
// Grounded in _examples/original_source/crates/llm-orchestrator-core/src/context.rs.
// The Rust source renders templates with the `handlebars` crate; no
// mustache/handlebars-equivalent library exists anywhere in the example
// corpus (verified against every go.mod in the retrieval pack), and the
// syntax required — bare `{{ name }}` with implicit, dot-separated,
// multi-namespace lookups into untyped maps, missing-key-as-empty-string,
// and a literal "[object]" stringification of whole objects — does not
// match how the corpus's own `text/template` users bind data (always a
// dot-prefixed field access against a concrete Go struct). This renderer
// is therefore a small hand-written scanner built to reproduce exactly
// the behavior context.rs's test suite specifies; see DESIGN.md.
package context

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Context is the thread-safe store a workflow execution renders
// templates and evaluates conditions against.
type Context struct {
	inputsMu sync.RWMutex
	inputs   map[string]interface{}

	outputsMu sync.RWMutex
	outputs   map[string]interface{}

	metadataMu sync.RWMutex
	metadata   map[string]interface{}
}

// New creates a Context seeded with the workflow's inputs.
func New(inputs map[string]interface{}) *Context {
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	return &Context{
		inputs:   inputs,
		outputs:  map[string]interface{}{},
		metadata: map[string]interface{}{},
	}
}

// SetOutput records the output value produced by a step.
func (c *Context) SetOutput(stepID string, value interface{}) {
	c.outputsMu.Lock()
	defer c.outputsMu.Unlock()
	c.outputs[stepID] = value
}

// GetOutput returns a step's recorded output, if any.
func (c *Context) GetOutput(stepID string) (interface{}, bool) {
	c.outputsMu.RLock()
	defer c.outputsMu.RUnlock()
	v, ok := c.outputs[stepID]
	return v, ok
}

// GetInput returns a top-level input value, if any.
func (c *Context) GetInput(key string) (interface{}, bool) {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	v, ok := c.inputs[key]
	return v, ok
}

// SetMetadata records a metadata value.
func (c *Context) SetMetadata(key string, value interface{}) {
	c.metadataMu.Lock()
	defer c.metadataMu.Unlock()
	c.metadata[key] = value
}

// GetMetadata returns a metadata value, if any.
func (c *Context) GetMetadata(key string) (interface{}, bool) {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// AllOutputs returns a shallow copy of every recorded output.
func (c *Context) AllOutputs() map[string]interface{} {
	c.outputsMu.RLock()
	defer c.outputsMu.RUnlock()
	out := make(map[string]interface{}, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// AllInputs returns a shallow copy of every input.
func (c *Context) AllInputs() map[string]interface{} {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	out := make(map[string]interface{}, len(c.inputs))
	for k, v := range c.inputs {
		out[k] = v
	}
	return out
}

// rootEnv builds the per-call rendering environment: every input at the
// top level, the same inputs under "inputs.", and all outputs under both
// "outputs." and "steps.".
func (c *Context) rootEnv() map[string]interface{} {
	inputs := c.AllInputs()
	outputs := c.AllOutputs()

	env := make(map[string]interface{}, len(inputs)+3)
	for k, v := range inputs {
		env[k] = v
	}
	if len(inputs) > 0 {
		env["inputs"] = toMap(inputs)
	}
	if len(outputs) > 0 {
		outMap := toMap(outputs)
		env["outputs"] = outMap
		env["steps"] = outMap
	}
	return env
}

func toMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RenderTemplate renders every `{{ path }}` expression in s against the
// current context. Missing identifiers render as empty; no HTML
// escaping is ever applied.
func (c *Context) RenderTemplate(s string) (string, error) {
	env := c.rootEnv()
	var renderErr error
	result := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		value, found := resolvePath(env, path)
		if !found {
			return ""
		}
		return stringify(value)
	})
	if renderErr != nil {
		return "", apperrors.NewTemplateError(renderErr, s)
	}
	return result, nil
}

// resolvePath walks a dotted path ("steps.step1.greeting") into nested
// maps, returning (value, true) on success or (nil, false) if any
// segment is missing.
func resolvePath(env map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(strings.TrimSpace(path), ".")
	var current interface{} = env
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringify converts a resolved value to its rendered text form. Whole
// objects/arrays stringify to the literal "[object]", matching the
// Handlebars-derived behavior the reference implementation's tests
// assert (context.rs::test_template_nested_field_access).
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]interface{}, []interface{}:
		return "[object]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// EvaluateCondition renders condition, then interprets the result per
// SPEC_FULL.md / spec.md §4.B: boolean tokens, then `==`/`!=` comparison
// with quote-stripping on the right-hand side, else non-empty-string
// truthiness.
func (c *Context) EvaluateCondition(condition string) (bool, error) {
	rendered, err := c.RenderTemplate(condition)
	if err != nil {
		return false, err
	}
	trimmed := strings.TrimSpace(rendered)

	switch strings.ToLower(trimmed) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no", "":
		return false, nil
	}

	if left, right, ok := splitOnce(trimmed, "=="); ok {
		return strings.TrimSpace(left) == stripQuotes(strings.TrimSpace(right)), nil
	}
	if left, right, ok := splitOnce(trimmed, "!="); ok {
		return strings.TrimSpace(left) != stripQuotes(strings.TrimSpace(right)), nil
	}

	return trimmed != "", nil
}

func splitOnce(s, sep string) (left, right string, ok bool) {
	idx := strings.Index(s, sep)
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+len(sep):], true
}

// stripQuotes trims one layer of matching single or double quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if s[0] == '\'' && s[len(s)-1] == '\'' {
			return s[1 : len(s)-1]
		}
		if s[0] == '"' && s[len(s)-1] == '"' {
			return s[1 : len(s)-1]
		}
	}
	return s
}
