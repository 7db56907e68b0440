// Package agent defines the immutable Agent configuration and the
// Behavior extension point that the runner package drives. An Agent is
// built once via New and its options, then reused concurrently across
// many runs; per-run mutable state lives in RunContext instead.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/structured"
	"github.com/nguyenthanhtuan/agentrun/tool"
)

// EndStrategy controls when a run stops relative to outstanding tool
// calls in the final assistant turn.
type EndStrategy string

const (
	// EndEarly stops as soon as the behavior reports a final answer,
	// leaving any tool calls in that same turn unexecuted. The default.
	EndEarly EndStrategy = "early"
	// EndExhaustive executes every tool call the final turn still
	// carries before the run returns, so each call gets a paired result.
	EndExhaustive EndStrategy = "exhaustive"
)

// Agent is an immutable bundle of model, prompt, tools, and behavior.
// Build one with New and reuse it; it holds no per-run state.
type Agent struct {
	Model         modelcfg.Model
	System        string
	Tools         []*tool.Tool
	Behavior      Behavior
	EndStrategy   EndStrategy
	MaxIterations int
	// Retries bounds how many corrective round trips the runner takes
	// when structured output fails validation. Zero means the runner's
	// default.
	Retries     int
	UsageLimits message.Usage
	Temperature   float64
	TopP          float64
	MaxTokens     int

	// Output, when set, constrains the run's final answer to a JSON
	// Schema via the structured package. OutputMode selects how the
	// model is made to comply; ModeAuto (the default once Output is
	// set) picks a mode appropriate to Model.Provider.
	Output     *structured.Schema
	OutputMode structured.Mode

	// Guided, when set, constrains decoding at the token level instead
	// of validating after the fact. Mutually exclusive with Output; only
	// guided-decoding backends honor it.
	Guided *structured.Guided

	// Settings carries provider-specific request extensions keyed by the
	// names the adapters document (e.g. "anthropic_thinking_budget",
	// "anthropic_context_1m", "mistral_safe_prompt"). Merged over
	// Model.DefaultSettings into every request.
	Settings map[string]interface{}
}

// Option configures an Agent at construction time.
type Option func(*Agent)

// WithSystem sets the base system prompt.
func WithSystem(prompt string) Option { return func(a *Agent) { a.System = prompt } }

// WithTools appends tools the agent may call.
func WithTools(tools ...*tool.Tool) Option {
	return func(a *Agent) { a.Tools = append(a.Tools, tools...) }
}

// WithBehavior selects the run-loop behavior (Basic, ReAct, ...). If
// omitted, New defaults to a plain tool-calling loop.
func WithBehavior(b Behavior) Option { return func(a *Agent) { a.Behavior = b } }

// WithMaxIterations caps the number of model/tool round trips a single
// run may take before it fails with agenterr.KindMaxIterations.
func WithMaxIterations(n int) Option { return func(a *Agent) { a.MaxIterations = n } }

// WithEndStrategy selects how the run treats tool calls in its final
// turn (EndEarly skips them, EndExhaustive runs them to completion).
func WithEndStrategy(s EndStrategy) Option { return func(a *Agent) { a.EndStrategy = s } }

// WithRetries bounds the corrective round trips taken when structured
// output fails validation.
func WithRetries(n int) Option { return func(a *Agent) { a.Retries = n } }

// WithUsageLimits sets a ceiling the runner enforces against accumulated
// RunContext.Usage; a zero field in limits means "no limit" for that
// dimension, per message.Usage.ExceedsLimit.
func WithUsageLimits(limits message.Usage) Option { return func(a *Agent) { a.UsageLimits = limits } }

// WithTemperature sets sampling temperature passed to every provider.Request.
func WithTemperature(t float64) Option { return func(a *Agent) { a.Temperature = t } }

// WithTopP sets nucleus sampling passed to every provider.Request.
func WithTopP(p float64) Option { return func(a *Agent) { a.TopP = p } }

// WithMaxTokens caps tokens requested per model call.
func WithMaxTokens(n int) Option { return func(a *Agent) { a.MaxTokens = n } }

// WithOutput constrains the agent's final answer to schema, delivered
// through mode (structured.ModeAuto lets the runner pick a mode suited to
// Model.Provider).
func WithOutput(schema structured.Schema, mode structured.Mode) Option {
	return func(a *Agent) {
		a.Output = &schema
		a.OutputMode = mode
	}
}

// WithGuidedOutput constrains decoding at the token level (choice list,
// regex, or grammar) on backends that support guided decoding.
func WithGuidedOutput(g structured.Guided) Option {
	return func(a *Agent) { a.Guided = &g }
}

// WithSetting attaches one provider-specific request extension, keyed by
// the name the target adapter documents.
func WithSetting(key string, value interface{}) Option {
	return func(a *Agent) {
		if a.Settings == nil {
			a.Settings = make(map[string]interface{})
		}
		a.Settings[key] = value
	}
}

// New builds an Agent from m and opts. It rejects duplicate tool names
// up front so the runner never has to guess which tool a call name
// resolves to.
func New(m modelcfg.Model, opts ...Option) (*Agent, error) {
	a := &Agent{Model: m, MaxIterations: 10}
	for _, opt := range opts {
		opt(a)
	}
	if a.Behavior == nil {
		a.Behavior = basicBehavior{}
	}
	if a.EndStrategy == "" {
		a.EndStrategy = EndEarly
	}
	if a.EndStrategy != EndEarly && a.EndStrategy != EndExhaustive {
		return nil, fmt.Errorf("agent: unknown end strategy %q", a.EndStrategy)
	}
	if a.Output != nil && a.OutputMode == "" {
		a.OutputMode = structured.ModeAuto
	}
	if a.Output != nil && a.Guided != nil {
		return nil, fmt.Errorf("agent: schema output and guided decoding are mutually exclusive")
	}

	seen := make(map[string]bool, len(a.Tools))
	for _, t := range a.Tools {
		if seen[t.Name] {
			return nil, fmt.Errorf("agent: duplicate tool name %q", t.Name)
		}
		seen[t.Name] = true
	}

	return a, nil
}

// Behavior is the extension point between the runner's model/tool loop
// and a particular agent pattern (plain tool-calling, ReAct, ...). The
// behavior package provides Basic and ReAct implementations; a zero
// Agent defaults to an internal equivalent of Basic.
type Behavior interface {
	// Name identifies the behavior for logging and telemetry.
	Name() string

	// GetTools returns the tool set visible to the model for this run,
	// given the caller-configured tools and the run's RunContext.
	// Implementations may add synthetic tools bound to rc (e.g. ReAct's
	// plan/final_answer tools, whose Func closures write into
	// rc.State); the RunContext is threaded in here, rather than left
	// out as in a stateless capability table, because those synthetic
	// tools have nowhere else to keep their per-run state.
	GetTools(rc *RunContext, callerTools []*tool.Tool) []*tool.Tool

	// PrepareSystem adapts the base system prompt, e.g. appending a
	// ReAct format primer.
	PrepareSystem(base string) string

	// OnModelResponse inspects a model turn and decides whether the run
	// should continue (issue tool calls / request another turn) or stop
	// with a final answer.
	OnModelResponse(ctx context.Context, rc *RunContext, resp message.Message) (cont bool, final string, err error)

	// OnToolResult observes a tool call result as it completes, before
	// it is appended to the transcript. Implementations that don't need
	// this may leave it a no-op.
	OnToolResult(ctx context.Context, rc *RunContext, call tool.Call, result tool.Result)
}

type basicBehavior struct{}

func (basicBehavior) Name() string { return "basic" }

func (basicBehavior) GetTools(rc *RunContext, callerTools []*tool.Tool) []*tool.Tool {
	return callerTools
}

func (basicBehavior) PrepareSystem(base string) string { return base }

func (basicBehavior) OnModelResponse(ctx context.Context, rc *RunContext, resp message.Message) (bool, string, error) {
	if len(resp.ToolCalls()) > 0 {
		return true, "", nil
	}
	return false, resp.Text(), nil
}

func (basicBehavior) OnToolResult(ctx context.Context, rc *RunContext, call tool.Call, result tool.Result) {
}

// RunContext carries the mutable state of a single agent run: the
// growing transcript, accumulated usage, and iteration count. The
// runner creates one per Run/RunStream call and Behavior implementations
// may stash their own state in State. Deps is the caller-supplied,
// opaque run_context data threaded to every tool invocation (runner.Options.Deps
// copied per run); a tool's ContextPatch is merged back into Deps between
// iterations.
type RunContext struct {
	Agent     *Agent
	Messages  []message.Message
	Usage     message.Usage
	Iteration int
	StartedAt time.Time
	State     map[string]interface{}
	Deps      map[string]interface{}
}

// NewRunContext seeds a RunContext with a single user turn.
func NewRunContext(a *Agent, prompt string) *RunContext {
	return &RunContext{
		Agent:     a,
		Messages:  []message.Message{message.User(prompt)},
		StartedAt: time.Now(),
		State:     make(map[string]interface{}),
		Deps:      make(map[string]interface{}),
	}
}
