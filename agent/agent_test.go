package agent

import (
	"context"
	"testing"

	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsBehaviorAndIterations(t *testing.T) {
	a, err := New(modelcfg.Model{Name: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, 10, a.MaxIterations)
	assert.Equal(t, "basic", a.Behavior.Name())
}

func TestNewDefaultsEndStrategyToEarly(t *testing.T) {
	a, err := New(modelcfg.Model{})
	require.NoError(t, err)
	assert.Equal(t, EndEarly, a.EndStrategy)
}

func TestNewRejectsUnknownEndStrategy(t *testing.T) {
	_, err := New(modelcfg.Model{}, WithEndStrategy("sometimes"))
	require.Error(t, err)
}

func TestNewRejectsDuplicateToolNames(t *testing.T) {
	dup := tool.New("dup", "")
	_, err := New(modelcfg.Model{}, WithTools(dup, dup))
	require.Error(t, err)
}

func TestBasicBehaviorStopsWithoutToolCalls(t *testing.T) {
	a, err := New(modelcfg.Model{})
	require.NoError(t, err)
	rc := NewRunContext(a, "hello")

	cont, final, err := a.Behavior.OnModelResponse(context.Background(), rc, message.Assistant("done"))
	require.NoError(t, err)
	assert.False(t, cont)
	assert.Equal(t, "done", final)
}

func TestBasicBehaviorContinuesWithToolCalls(t *testing.T) {
	a, err := New(modelcfg.Model{})
	require.NoError(t, err)
	rc := NewRunContext(a, "hello")

	resp := message.Message{
		Role: message.RoleAssistant,
		Parts: []message.Part{
			message.ToolCallPart{ID: "1", Name: "search", Arguments: `{}`},
		},
	}
	cont, _, err := a.Behavior.OnModelResponse(context.Background(), rc, resp)
	require.NoError(t, err)
	assert.True(t, cont)
}
