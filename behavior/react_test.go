package behavior

import (
	"context"
	"testing"

	"github.com/nguyenthanhtuan/agentrun/agent"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReActAgent(t *testing.T) (*agent.Agent, *agent.RunContext) {
	t.Helper()
	a, err := agent.New(modelcfg.Model{Name: "gpt-4o-mini"}, agent.WithBehavior(ReAct{}))
	require.NoError(t, err)
	rc := agent.NewRunContext(a, "what is 2+2?")
	return a, rc
}

func TestReActGetToolsPrependsSyntheticTools(t *testing.T) {
	a, rc := newReActAgent(t)
	caller := tool.New("search", "search the web")
	tools := a.Behavior.GetTools(rc, []*tool.Tool{caller})

	names := make(map[string]bool)
	for _, tl := range tools {
		names[tl.Name] = true
	}
	for _, want := range []string{"plan", "add_todo", "complete_todo", "list_todos", "note", "final_answer", "search"} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestReActPlanTodoLifecycle(t *testing.T) {
	a, rc := newReActAgent(t)
	tools := a.Behavior.GetTools(rc, nil)
	byName := map[string]*tool.Tool{}
	for _, tl := range tools {
		byName[tl.Name] = tl
	}

	_, _, err := byName["plan"].Func(context.Background(), &tool.RunContext{}, map[string]interface{}{"question": "2+2?"})
	require.NoError(t, err)

	_, _, err = byName["add_todo"].Func(context.Background(), &tool.RunContext{}, map[string]interface{}{"item": "compute sum"})
	require.NoError(t, err)

	out, _, err := byName["list_todos"].Func(context.Background(), &tool.RunContext{}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "compute sum")

	_, _, err = byName["complete_todo"].Func(context.Background(), &tool.RunContext{}, map[string]interface{}{"id": float64(1)})
	require.NoError(t, err)

	d := rc.State[reactStateKey].(*reactData)
	assert.True(t, d.Todos[0].Done)
}

func TestReActFinalAnswerEndsRun(t *testing.T) {
	a, rc := newReActAgent(t)
	tools := a.Behavior.GetTools(rc, nil)
	var finalTool *tool.Tool
	for _, tl := range tools {
		if tl.Name == "final_answer" {
			finalTool = tl
		}
	}
	require.NotNil(t, finalTool)
	_, _, err := finalTool.Func(context.Background(), &tool.RunContext{}, map[string]interface{}{"answer": "4"})
	require.NoError(t, err)

	resp := message.Message{
		Role:  message.RoleAssistant,
		Parts: []message.Part{message.ToolCallPart{ID: "1", Name: "final_answer", Arguments: `{"answer":"4"}`}},
	}
	cont, final, err := a.Behavior.OnModelResponse(context.Background(), rc, resp)
	require.NoError(t, err)
	assert.False(t, cont)
	assert.Equal(t, "4", final)
}

func TestReActOnToolResultDetectsLoop(t *testing.T) {
	a, rc := newReActAgent(t)
	call := tool.Call{ID: "1", Name: "search", Arguments: map[string]interface{}{"q": "paris"}}
	result := tool.Result{CallID: "1", Content: "ok"}

	a.Behavior.OnToolResult(context.Background(), rc, call, result)
	a.Behavior.OnToolResult(context.Background(), rc, call, result)

	d := rc.State[reactStateKey].(*reactData)
	assert.Len(t, d.history, 2)
}

func TestParseTextAction(t *testing.T) {
	toolName, args, ok := parseTextAction("THOUGHT: let me search\nACTION: search(query=\"Paris\")")
	require.True(t, ok)
	assert.Equal(t, "search", toolName)
	assert.Equal(t, "Paris", args["query"])
}
