package runner

import (
	"context"
	"testing"

	"github.com/nguyenthanhtuan/agentrun/agent"
	"github.com/nguyenthanhtuan/agentrun/behavior"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/provider"
	"github.com/nguyenthanhtuan/agentrun/streamnorm"
	"github.com/nguyenthanhtuan/agentrun/structured"
	"github.com/nguyenthanhtuan/agentrun/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays a fixed sequence of responses, one per Request
// call, so the runner's loop can be exercised without network access.
type scriptedProvider struct {
	responses []provider.Response
	calls     int
}

func (p *scriptedProvider) Request(ctx context.Context, req provider.Request) (provider.Response, error) {
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) RequestStream(ctx context.Context, req provider.Request) (<-chan streamnorm.Event, error) {
	out := make(chan streamnorm.Event, 1)
	out <- streamnorm.Event{Kind: streamnorm.EventTextDelta, TextDelta: "hi"}
	close(out)
	return out, nil
}

func registryWith(p provider.Provider) *provider.Registry {
	return registryWithTag(p, modelcfg.ProviderOpenAI)
}

func registryWithTag(p provider.Provider, tags ...modelcfg.Provider) *provider.Registry {
	r := provider.NewRegistry()
	ctor := func(modelcfg.Model) (provider.Provider, error) { return p, nil }
	for _, tag := range tags {
		r.Register(tag, ctor)
	}
	return r
}

func TestRunStopsWhenModelEmitsNoToolCalls(t *testing.T) {
	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Assistant("the answer is 4")},
	}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI, Name: "gpt-4o-mini"})
	require.NoError(t, err)

	rn := New(registryWith(p))
	result, err := rn.Run(context.Background(), a, "what is 2+2?", Options{})
	require.NoError(t, err)
	assert.Equal(t, "the answer is 4", result.Output)
	assert.Equal(t, 1, p.calls)
}

func TestRunExecutesToolCallThenStops(t *testing.T) {
	calc := tool.New("calculator", "adds numbers").
		AddParameter("a", tool.NumberParam(""), true).
		WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
			return "4", tool.ContextPatch{}, nil
		})

	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
			message.ToolCallPart{ID: "1", Name: "calculator", Arguments: `{"a":2}`},
		}}},
		{Message: message.Assistant("4")},
	}}

	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI}, agent.WithTools(calc))
	require.NoError(t, err)

	rn := New(registryWith(p))
	result, err := rn.Run(context.Background(), a, "compute 2+2", Options{})
	require.NoError(t, err)
	assert.Equal(t, "4", result.Output)
	assert.Equal(t, 2, p.calls)

	var sawToolResult bool
	for _, m := range result.AllMessages {
		if m.Role == message.RoleTool {
			sawToolResult = true
		}
	}
	assert.True(t, sawToolResult)
}

func TestRunMaxIterationsExceeded(t *testing.T) {
	infiniteCall := provider.Response{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
		message.ToolCallPart{ID: "1", Name: "noop", Arguments: `{}`},
	}}}
	responses := make([]provider.Response, 0, 3)
	for i := 0; i < 3; i++ {
		responses = append(responses, infiniteCall)
	}
	p := &scriptedProvider{responses: responses}

	noop := tool.New("noop", "").WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
		return "ok", tool.ContextPatch{}, nil
	})
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI}, agent.WithTools(noop), agent.WithMaxIterations(2))
	require.NoError(t, err)

	rn := New(registryWith(p))
	_, err = rn.Run(context.Background(), a, "loop forever", Options{})
	require.Error(t, err)
}

func TestRunUsageLimitExceeded(t *testing.T) {
	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Assistant("done"), Usage: message.Usage{TotalTokens: 1000}},
	}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI},
		agent.WithUsageLimits(message.Usage{TotalTokens: 10}))
	require.NoError(t, err)

	rn := New(registryWith(p))
	_, err = rn.Run(context.Background(), a, "hi", Options{})
	require.Error(t, err)
}

func TestRunInvalidToolArgumentsSurfaceAsErrorResult(t *testing.T) {
	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
			message.ToolCallPart{ID: "1", Name: "calculator", Arguments: `not json`},
		}}},
		{Message: message.Assistant("recovered")},
	}}
	calc := tool.New("calculator", "").WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
		return "unused", tool.ContextPatch{}, nil
	})
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI}, agent.WithTools(calc))
	require.NoError(t, err)

	rn := New(registryWith(p))
	result, err := rn.Run(context.Background(), a, "bad args", Options{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Output)
}

func answerSchema() structured.Schema {
	return structured.Schema{
		Name: "answer",
		Raw: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"answer"},
			"properties": map[string]interface{}{
				"answer": map[string]interface{}{"type": "string"},
			},
		},
	}
}

func TestRunStructuredOutputToolCallMode(t *testing.T) {
	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
			message.ToolCallPart{ID: "1", Name: structured.StructuredToolName, Arguments: `{"answer":"42"}`},
		}}},
	}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderAnthropic},
		agent.WithOutput(answerSchema(), structured.ModeAuto))
	require.NoError(t, err)

	rn := New(registryWithTag(p, modelcfg.ProviderAnthropic))
	result, err := rn.Run(context.Background(), a, "what is the answer?", Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"42"}`, result.Output)
}

func TestRunStructuredOutputToolCallModeRetriesOnInvalidArgs(t *testing.T) {
	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
			message.ToolCallPart{ID: "1", Name: structured.StructuredToolName, Arguments: `{}`},
		}}},
		{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
			message.ToolCallPart{ID: "2", Name: structured.StructuredToolName, Arguments: `{"answer":"42"}`},
		}}},
	}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderAnthropic},
		agent.WithOutput(answerSchema(), structured.ModeAuto))
	require.NoError(t, err)

	rn := New(registryWithTag(p, modelcfg.ProviderAnthropic))
	result, err := rn.Run(context.Background(), a, "what is the answer?", Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"42"}`, result.Output)
	assert.Equal(t, 2, p.calls)
}

func TestRunStructuredOutputExhaustsConfiguredRetries(t *testing.T) {
	bad := provider.Response{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
		message.ToolCallPart{ID: "1", Name: structured.StructuredToolName, Arguments: `{}`},
	}}}
	p := &scriptedProvider{responses: []provider.Response{bad, bad}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderAnthropic},
		agent.WithOutput(answerSchema(), structured.ModeAuto),
		agent.WithRetries(1))
	require.NoError(t, err)

	rn := New(registryWithTag(p, modelcfg.ProviderAnthropic))
	_, err = rn.Run(context.Background(), a, "what is the answer?", Options{})
	require.Error(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestRunStructuredOutputMDJSONMode(t *testing.T) {
	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Assistant("```json\n{\"answer\":\"42\"}\n```")},
	}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOllama},
		agent.WithOutput(answerSchema(), structured.ModeMDJSON))
	require.NoError(t, err)

	rn := New(registryWithTag(p, modelcfg.ProviderOllama))
	result, err := rn.Run(context.Background(), a, "what is the answer?", Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"42"}`, result.Output)
}

func TestRunGuidedChoicePassesConstraintThrough(t *testing.T) {
	captured := &capturingProvider{response: provider.Response{Message: message.Assistant("yes")}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderVLLM},
		agent.WithGuidedOutput(structured.Guided{Kind: structured.GuidedChoice, Choices: []string{"yes", "no"}}))
	require.NoError(t, err)

	rn := New(registryWithTag(captured, modelcfg.ProviderVLLM))
	result, err := rn.Run(context.Background(), a, "is water wet?", Options{})
	require.NoError(t, err)
	assert.Equal(t, "yes", result.Output)
	require.NotNil(t, captured.lastRequest.Guided)
	assert.Equal(t, []string{"yes", "no"}, captured.lastRequest.Guided.Choices)
}

func TestRunJSONSchemaModeSetsResponseFormat(t *testing.T) {
	captured := &capturingProvider{response: provider.Response{Message: message.Assistant(`{"answer":"42"}`)}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI},
		agent.WithOutput(answerSchema(), structured.ModeAuto))
	require.NoError(t, err)

	rn := New(registryWith(captured))
	result, err := rn.Run(context.Background(), a, "what is the answer?", Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"42"}`, result.Output)
	require.NotNil(t, captured.lastRequest.ResponseFormat)
	assert.Equal(t, "json_schema", captured.lastRequest.ResponseFormat.Type)
}

func TestRunNewMessagesExcludeHistory(t *testing.T) {
	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Assistant("still here")},
	}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI})
	require.NoError(t, err)

	history := []message.Message{message.User("earlier"), message.Assistant("noted")}
	rn := New(registryWith(p))
	result, err := rn.Run(context.Background(), a, "and now?", Options{MessageHistory: history})
	require.NoError(t, err)

	require.Len(t, result.NewMessages, 2)
	assert.Equal(t, message.RoleUser, result.NewMessages[0].Role)
	assert.Equal(t, "and now?", result.NewMessages[0].Text())
	assert.Len(t, result.AllMessages, 4)
}

// capturingProvider records the last request so tests can assert on how
// the runner shaped it.
type capturingProvider struct {
	response    provider.Response
	lastRequest provider.Request
}

func (p *capturingProvider) Request(ctx context.Context, req provider.Request) (provider.Response, error) {
	p.lastRequest = req
	return p.response, nil
}

func (p *capturingProvider) RequestStream(ctx context.Context, req provider.Request) (<-chan streamnorm.Event, error) {
	p.lastRequest = req
	out := make(chan streamnorm.Event)
	close(out)
	return out, nil
}

func TestRunEndStrategyEarlySkipsFinalTurnToolCalls(t *testing.T) {
	var executed int
	record := tool.New("record", "").WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
		executed++
		return "ok", tool.ContextPatch{}, nil
	})

	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
			message.ToolCallPart{ID: "1", Name: "final_answer", Arguments: `{"answer":"done"}`},
			message.ToolCallPart{ID: "2", Name: "record", Arguments: `{}`},
		}}},
	}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI},
		agent.WithBehavior(behavior.ReAct{}), agent.WithTools(record))
	require.NoError(t, err)

	rn := New(registryWith(p))
	result, err := rn.Run(context.Background(), a, "finish up", Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, 0, executed)
}

func TestRunEndStrategyExhaustiveDrainsFinalTurnToolCalls(t *testing.T) {
	var executed int
	record := tool.New("record", "").WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
		executed++
		return "ok", tool.ContextPatch{}, nil
	})

	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
			message.ToolCallPart{ID: "1", Name: "final_answer", Arguments: `{"answer":"done"}`},
			message.ToolCallPart{ID: "2", Name: "record", Arguments: `{}`},
		}}},
	}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI},
		agent.WithBehavior(behavior.ReAct{}), agent.WithTools(record),
		agent.WithEndStrategy(agent.EndExhaustive))
	require.NoError(t, err)

	rn := New(registryWith(p))
	result, err := rn.Run(context.Background(), a, "finish up", Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, 1, executed)

	var toolResults int
	for _, m := range result.AllMessages {
		if m.Role == message.RoleTool {
			toolResults++
		}
	}
	assert.Equal(t, 2, toolResults)
}

func TestReActFinalAnswerStopsRun(t *testing.T) {
	p := &scriptedProvider{responses: []provider.Response{
		{Message: message.Message{Role: message.RoleAssistant, Parts: []message.Part{
			message.ToolCallPart{ID: "1", Name: "final_answer", Arguments: `{"answer":"42"}`},
		}}},
	}}
	a, err := agent.New(modelcfg.Model{Provider: modelcfg.ProviderOpenAI}, agent.WithBehavior(behavior.ReAct{}))
	require.NoError(t, err)

	rn := New(registryWith(p))
	result, err := rn.Run(context.Background(), a, "what is the answer?", Options{})
	require.NoError(t, err)
	assert.Equal(t, "42", result.Output)
}
