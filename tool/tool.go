// Package tool defines agentrun's Tool type and the Executor that runs
// tool calls the runner receives from a model: an immutable Tool value
// plus a typed Call/Result/ContextPatch exchange the Runner applies
// explicitly.
package tool

import (
	"context"
	"regexp"
	"time"
)

// RunContext is the run-scoped state a Tool.Func is invoked with.
// Deps is the same map the caller passed into runner.Options.Deps (copied
// per run for isolation); a tool reads it by key and may ask for changes
// via the ContextPatch it returns from Func.
type RunContext struct {
	Deps map[string]interface{}
}

// Func is a tool's implementation. It receives already-decoded JSON
// arguments and the run's RunContext so a tool can read caller-supplied
// deps, and returns a ContextPatch the Runner merges into RunContext.Deps
// before the next iteration.
type Func func(ctx context.Context, rc *RunContext, args map[string]interface{}) (result string, patch ContextPatch, err error)

// Tool is one callable function exposed to the model.
type Tool struct {
	Name             string
	Description      string
	Schema           map[string]interface{} // JSON Schema object for Parameters
	Func             Func
	Retries          int
	Timeout          time.Duration
	RequiresApproval bool
}

// Call is one invocation of a Tool requested by a model.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Result is the outcome of executing a Call.
type Result struct {
	CallID  string
	Content string
	IsError bool
}

// ContextPatch is how a Tool asks the Runner to update the run's deps
// between iterations, without the result payload itself carrying any
// reserved keys the model could see.
type ContextPatch struct {
	Set map[string]interface{}
}

var toolNoisePattern = regexp.MustCompile(`[<>].*$`)

// sanitizeName strips trailing XML-like noise a model sometimes appends to
// a tool name (e.g. "search</tool_call>").
func sanitizeName(name string) string {
	return toolNoisePattern.ReplaceAllString(name, "")
}

// StringParam, NumberParam, BoolParam, ArrayParam, and EnumParam build a
// JSON Schema property definition for Tool.AddParameter.

func StringParam(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func NumberParam(description string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": description}
}

func BoolParam(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}

func ArrayParam(description, itemType string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       map[string]interface{}{"type": itemType},
	}
}

func EnumParam(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// New builds a Tool with an empty object schema, ready for AddParameter.
func New(name, description string) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
			"required":   []string{},
		},
	}
}

// AddParameter adds a property to t's schema and returns t for chaining.
func (t *Tool) AddParameter(name string, def map[string]interface{}, required bool) *Tool {
	props := t.Schema["properties"].(map[string]interface{})
	props[name] = def
	if required {
		reqs := t.Schema["required"].([]string)
		t.Schema["required"] = append(reqs, name)
	}
	return t
}

// WithFunc sets t's implementation and returns t for chaining.
func (t *Tool) WithFunc(fn Func) *Tool {
	t.Func = fn
	return t
}
