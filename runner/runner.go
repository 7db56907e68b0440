// Package runner implements the agent-run loop: the central orchestration
// that interleaves model calls and tool invocations until a behaviour
// reports a final answer, the iteration cap is hit, usage limits are
// exceeded, or the caller cancels. Provider dispatch goes through
// provider.Registry; the loop's policy decisions are delegated to a
// behavior.Behavior.
package runner

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nguyenthanhtuan/agentrun/agent"
	"github.com/nguyenthanhtuan/agentrun/agent/agenterr"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/provider"
	"github.com/nguyenthanhtuan/agentrun/ratelimit"
	"github.com/nguyenthanhtuan/agentrun/streamnorm"
	"github.com/nguyenthanhtuan/agentrun/structured"
	"github.com/nguyenthanhtuan/agentrun/telemetry"
	"github.com/nguyenthanhtuan/agentrun/tool"
)

// defaultStructuredOutputRetries bounds how many times the loop
// re-prompts a model whose output fails schema validation before giving
// up with a validation_error, when the agent doesn't set its own bound.
const defaultStructuredOutputRetries = 3

// Options configures one call to Run or RunStream.
type Options struct {
	Deps           map[string]interface{}
	MessageHistory []message.Message
	UsageLimits    message.Usage
	Cancellation   <-chan struct{}
}

// Result is the outcome of a completed Run.
type Result struct {
	Output      string
	Usage       message.Usage
	AllMessages []message.Message
	NewMessages []message.Message
	Deps        map[string]interface{}
}

// Runner drives agent.Agent values through the provider and tool layers.
type Runner struct {
	Providers *provider.Registry
	RateLimit *ratelimit.Limiter
	Telemetry *telemetry.Bus
	Logger    telemetry.Logger
}

// New builds a Runner. A nil RateLimit is replaced with a disabled
// (permissive) limiter and a nil Telemetry with the process-wide
// telemetry.Default bus, so callers don't need to construct either.
func New(providers *provider.Registry, opts ...func(*Runner)) *Runner {
	r := &Runner{Providers: providers, Logger: telemetry.NoopLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.RateLimit == nil {
		r.RateLimit, _ = ratelimit.New(ratelimit.Config{Enabled: false})
	}
	if r.Telemetry == nil {
		r.Telemetry = telemetry.Default
	}
	return r
}

// WithRateLimit sets the Runner's request throttle.
func WithRateLimit(l *ratelimit.Limiter) func(*Runner) { return func(r *Runner) { r.RateLimit = l } }

// WithTelemetry sets the Runner's event bus.
func WithTelemetry(b *telemetry.Bus) func(*Runner) { return func(r *Runner) { r.Telemetry = b } }

// WithLogger sets the Runner's structured logger.
func WithLogger(l telemetry.Logger) func(*Runner) { return func(r *Runner) { r.Logger = l } }

// Run executes a.MaxIterations worth of model/tool round trips to
// completion, implementing the ten-step loop.
func (r *Runner) Run(ctx context.Context, a *agent.Agent, prompt string, opts Options) (Result, error) {
	rc := newRunContext(a, prompt, opts)
	start := time.Now()
	runID := uuid.NewString()

	r.Telemetry.Publish(ctx, telemetry.Span{Name: telemetry.SpanAgentRunStart, Timestamp: start,
		Fields: []telemetry.Field{
			telemetry.F("run_id", runID),
			telemetry.F("provider", string(a.Model.Provider)),
			telemetry.F("model", a.Model.Name),
			telemetry.F("behavior", a.Behavior.Name()),
			telemetry.F("prompt_len", len(prompt)),
		}})

	output, err := r.loop(ctx, a, rc, opts)

	r.Telemetry.Publish(ctx, telemetry.Span{Name: telemetry.SpanAgentRunEnd, Timestamp: time.Now(), Duration: time.Since(start),
		Fields: []telemetry.Field{
			telemetry.F("run_id", runID),
			telemetry.F("iterations", rc.Iteration),
			telemetry.F("requests", rc.Usage.Requests),
			telemetry.F("total_tokens", rc.Usage.TotalTokens),
			telemetry.F("tool_calls", rc.Usage.ToolCalls),
		}, Err: err})

	if err != nil {
		return Result{}, err
	}
	return Result{
		Output:      output,
		Usage:       rc.Usage,
		AllMessages: rc.Messages,
		NewMessages: rc.Messages[len(opts.MessageHistory):],
		Deps:        rc.Deps,
	}, nil
}

func newRunContext(a *agent.Agent, prompt string, opts Options) *agent.RunContext {
	rc := agent.NewRunContext(a, prompt)
	if len(opts.MessageHistory) > 0 {
		rc.Messages = append(append([]message.Message{}, opts.MessageHistory...), rc.Messages...)
	}
	for k, v := range opts.Deps {
		rc.Deps[k] = v
	}
	return rc
}

func (r *Runner) loop(ctx context.Context, a *agent.Agent, rc *agent.RunContext, opts Options) (string, error) {
	outputMode := structured.Mode("")
	if a.Output != nil {
		outputMode = structured.SelectMode(a.OutputMode, a.Model.Provider)
	}
	structuredRetries := 0
	retryLimit := a.Retries
	if retryLimit <= 0 {
		retryLimit = defaultStructuredOutputRetries
	}

	for {
		if err := checkCancellation(ctx, opts.Cancellation); err != nil {
			return "", err
		}
		if rc.Iteration >= a.MaxIterations {
			return "", agenterr.New(agenterr.KindMaxIterations, "max iterations exceeded")
		}

		system := a.Behavior.PrepareSystem(a.System)
		tools := a.Behavior.GetTools(rc, a.Tools)
		if a.Output != nil {
			system, tools = applyStructuredOutput(system, tools, outputMode, *a.Output)
		}

		req := provider.Request{
			Model:       a.Model,
			System:      system,
			Messages:    rc.Messages,
			Tools:       tools,
			Temperature: a.Temperature,
			TopP:        a.TopP,
			MaxTokens:   a.MaxTokens,
			Guided:      a.Guided,
			Settings:    mergeSettings(a.Model.DefaultSettings, a.Settings),
		}
		if a.Output != nil {
			req.ResponseFormat = responseFormatFor(outputMode, *a.Output)
		}

		resp, err := r.dispatch(ctx, a, req)
		if err != nil {
			return "", err
		}

		rc.Usage = rc.Usage.Add(resp.Usage).IncRequests()
		if rc.Usage.ExceedsLimit(a.UsageLimits) || rc.Usage.ExceedsLimit(opts.UsageLimits) {
			return "", agenterr.New(agenterr.KindUsageLimit, "usage limit exceeded")
		}

		rc.Messages = append(rc.Messages, resp.Message)

		if a.Output != nil && outputMode == structured.ModeToolCall {
			if part, ok := findStructuredCall(resp.Message.ToolCalls()); ok {
				output, done, err := r.resolveStructuredToolCall(rc, *a.Output, part, &structuredRetries, retryLimit)
				if err != nil {
					return "", err
				}
				if done {
					return output, nil
				}
				rc.Iteration++
				continue
			}
		}

		cont, final, err := a.Behavior.OnModelResponse(ctx, rc, resp.Message)
		if err != nil {
			return "", err
		}
		if !cont {
			// EndExhaustive drains the final turn's tool calls before the
			// run returns, so every call still gets a paired result;
			// EndEarly (the default) leaves them unexecuted.
			if a.EndStrategy == agent.EndExhaustive {
				r.executeToolCalls(ctx, a, rc, tools, resp.Message.ToolCalls())
			}
			if a.Output != nil && outputMode != structured.ModeToolCall {
				output, done, err := r.resolveStructuredText(rc, *a.Output, outputMode, final, &structuredRetries, retryLimit)
				if err != nil {
					return "", err
				}
				if done {
					return output, nil
				}
				rc.Iteration++
				continue
			}
			return final, nil
		}

		r.executeToolCalls(ctx, a, rc, tools, resp.Message.ToolCalls())

		rc.Iteration++
	}
}

// executeToolCalls runs one assistant turn's tool calls in emission
// order, appending each result to the transcript and applying context
// patches.
func (r *Runner) executeToolCalls(ctx context.Context, a *agent.Agent, rc *agent.RunContext, tools []*tool.Tool, parts []message.ToolCallPart) {
	if len(parts) == 0 {
		return
	}
	rc.Usage = rc.Usage.IncToolCalls(len(parts))

	results, patches, calls := r.runToolCalls(ctx, rc, tools, parts)
	for i, call := range calls {
		a.Behavior.OnToolResult(ctx, rc, call, results[i])
		rc.Messages = append(rc.Messages, message.ToolResult(results[i].CallID, results[i].Content, results[i].IsError))
		applyPatch(rc, patches[i])
	}
}

// applyStructuredOutput adapts the system prompt and tool set for the
// chosen structured-output mode: ModeToolCall adds a synthetic tool the
// model must call with the schema-conforming value; the text-based modes
// append an instruction describing the required JSON shape.
func applyStructuredOutput(system string, tools []*tool.Tool, mode structured.Mode, schema structured.Schema) (string, []*tool.Tool) {
	if mode == structured.ModeToolCall {
		return system, append(append([]*tool.Tool{}, tools...), structured.ToolCallTool(schema))
	}
	instruction := structured.SystemInstruction(mode, schema)
	if system == "" {
		return instruction, tools
	}
	return system + "\n" + instruction, tools
}

func findStructuredCall(calls []message.ToolCallPart) (message.ToolCallPart, bool) {
	for _, c := range calls {
		if c.Name == structured.StructuredToolName {
			return c, true
		}
	}
	return message.ToolCallPart{}, false
}

// resolveStructuredToolCall validates the synthetic structured-output
// tool call's arguments against schema. On failure it feeds a
// field-error tool-result back to the model and reports done=false so the
// loop retries; on success, or once retries are exhausted, it reports
// done=true with the resolved output or a validation error.
func (r *Runner) resolveStructuredToolCall(rc *agent.RunContext, schema structured.Schema, call message.ToolCallPart, retries *int, limit int) (string, bool, error) {
	_, fieldErrs, err := structured.Validate(schema, call.Arguments)
	if err != nil {
		return r.structuredFailure(rc, call.ID, err.Error(), retries, limit)
	}
	if len(fieldErrs) > 0 {
		return r.structuredFailure(rc, call.ID, structured.RetryMessage(fieldErrs), retries, limit)
	}
	rc.Messages = append(rc.Messages, message.ToolResult(call.ID, "accepted", false))
	return call.Arguments, true, nil
}

// resolveStructuredText validates a text-mode final answer against
// schema, extracting the JSON payload per mode first.
func (r *Runner) resolveStructuredText(rc *agent.RunContext, schema structured.Schema, mode structured.Mode, text string, retries *int, limit int) (string, bool, error) {
	raw, err := structured.ExtractJSON(text, mode)
	if err != nil {
		return r.structuredTextFailure(rc, err.Error(), retries, limit)
	}
	_, fieldErrs, err := structured.Validate(schema, raw)
	if err != nil {
		return r.structuredTextFailure(rc, err.Error(), retries, limit)
	}
	if len(fieldErrs) > 0 {
		return r.structuredTextFailure(rc, structured.RetryMessage(fieldErrs), retries, limit)
	}
	return raw, true, nil
}

func (r *Runner) structuredFailure(rc *agent.RunContext, callID, feedback string, retries *int, limit int) (string, bool, error) {
	*retries++
	if *retries > limit {
		return "", true, agenterr.New(agenterr.KindValidation, "structured output failed validation: "+feedback)
	}
	rc.Messages = append(rc.Messages, message.ToolResult(callID, feedback, true))
	return "", false, nil
}

func (r *Runner) structuredTextFailure(rc *agent.RunContext, feedback string, retries *int, limit int) (string, bool, error) {
	*retries++
	if *retries > limit {
		return "", true, agenterr.New(agenterr.KindValidation, "structured output failed validation: "+feedback)
	}
	rc.Messages = append(rc.Messages, message.User(feedback))
	return "", false, nil
}

// RunStream executes only the first iteration, returning its canonical
// event stream directly. Per spec this does not drive a full tool-call
// loop; callers that observe tool calls in the stream must follow up with
// Run to complete the conversation.
func (r *Runner) RunStream(ctx context.Context, a *agent.Agent, prompt string, opts Options) (<-chan streamnorm.Event, error) {
	rc := newRunContext(a, prompt, opts)

	if err := checkCancellation(ctx, opts.Cancellation); err != nil {
		return nil, err
	}
	if err := r.RateLimit.Wait(ctx, string(a.Model.Provider)); err != nil {
		return nil, agenterr.Wrap(agenterr.KindProvider, "rate limit wait failed", err)
	}

	prov, err := r.Providers.Build(a.Model)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindConfiguration, "failed to build provider", err)
	}

	system := a.Behavior.PrepareSystem(a.System)
	tools := a.Behavior.GetTools(rc, a.Tools)

	req := provider.Request{
		Model:       a.Model,
		System:      system,
		Messages:    rc.Messages,
		Tools:       tools,
		Temperature: a.Temperature,
		TopP:        a.TopP,
		MaxTokens:   a.MaxTokens,
		Guided:      a.Guided,
		Settings:    mergeSettings(a.Model.DefaultSettings, a.Settings),
	}
	return prov.RequestStream(ctx, req)
}

func (r *Runner) dispatch(ctx context.Context, a *agent.Agent, req provider.Request) (provider.Response, error) {
	start := time.Now()
	r.Telemetry.Publish(ctx, telemetry.Span{Name: telemetry.SpanModelRequestStart, Timestamp: start,
		Fields: []telemetry.Field{telemetry.F("provider", string(a.Model.Provider))}})

	if err := r.RateLimit.Wait(ctx, string(a.Model.Provider)); err != nil {
		return provider.Response{}, agenterr.Wrap(agenterr.KindProvider, "rate limit wait failed", err)
	}

	prov, err := r.Providers.Build(a.Model)
	if err != nil {
		return provider.Response{}, agenterr.Wrap(agenterr.KindConfiguration, "failed to build provider", err)
	}

	resp, err := prov.Request(ctx, req)

	r.Telemetry.Publish(ctx, telemetry.Span{Name: telemetry.SpanModelRequestEnd, Timestamp: time.Now(), Duration: time.Since(start),
		Fields: []telemetry.Field{telemetry.F("finish_reason", resp.FinishReason)}, Err: err})

	return resp, err
}

// runToolCalls executes the assistant message's calls one at a time, in
// emission order, so each result is available before the next call runs
// and the results feed back to the model in the order it asked for them.
// A failing call is isolated: the model sees a per-call error tool-result
// instead of the whole run aborting. A call whose raw argument JSON fails
// to decode never reaches the executor; its parse error is surfaced
// directly as an error tool-result so the model can correct itself on the
// next turn.
func (r *Runner) runToolCalls(ctx context.Context, rc *agent.RunContext, tools []*tool.Tool, parts []message.ToolCallPart) ([]tool.Result, []tool.ContextPatch, []tool.Call) {
	executor := tool.NewExecutor(tools)
	executor.Logger = r.Logger
	executor.Telemetry = r.Telemetry
	toolRC := &tool.RunContext{Deps: rc.Deps}

	results := make([]tool.Result, len(parts))
	patches := make([]tool.ContextPatch, len(parts))
	calls := make([]tool.Call, len(parts))

	for i, part := range parts {
		args, err := decodeArgs(part.Arguments)
		calls[i] = tool.Call{ID: part.ID, Name: part.Name, Arguments: args}
		if err != nil {
			results[i] = tool.Result{CallID: part.ID, Content: "invalid tool arguments: " + err.Error(), IsError: true}
			continue
		}

		res, p, err := executor.ExecuteAll(ctx, toolRC, []tool.Call{calls[i]})
		if err != nil {
			results[i] = tool.Result{CallID: calls[i].ID, Content: err.Error(), IsError: true}
			continue
		}
		results[i] = res[0]
		if len(p) > 0 {
			patches[i] = p[0]
		}
	}
	return results, patches, calls
}

// mergeSettings layers agent-level settings over the model's defaults.
func mergeSettings(defaults, overrides map[string]interface{}) map[string]interface{} {
	if len(defaults) == 0 && len(overrides) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// responseFormatFor maps a structured-output mode onto the native
// response_format request field, for the modes a backend can enforce
// itself. ModeToolCall and ModeMDJSON work purely through the tool set
// and system prompt, so they carry no response format.
func responseFormatFor(mode structured.Mode, schema structured.Schema) *provider.ResponseFormat {
	switch mode {
	case structured.ModeJSONSchema:
		return &provider.ResponseFormat{Type: "json_schema", Name: schema.Name, Schema: schema.Raw}
	case structured.ModeJSON:
		return &provider.ResponseFormat{Type: "json_object"}
	default:
		return nil
	}
}

func decodeArgs(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func applyPatch(rc *agent.RunContext, patch tool.ContextPatch) {
	for k, v := range patch.Set {
		rc.Deps[k] = v
	}
}

func checkCancellation(ctx context.Context, cancellation <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return agenterr.Wrap(agenterr.KindExecutionCancel, "context cancelled", ctx.Err())
	default:
	}
	if cancellation == nil {
		return nil
	}
	select {
	case <-cancellation:
		return agenterr.New(agenterr.KindExecutionCancel, "run cancelled")
	default:
		return nil
	}
}
