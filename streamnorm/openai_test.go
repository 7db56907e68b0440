package streamnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAITextDelta(t *testing.T) {
	n := NewOpenAI()
	events, err := n.NormalizeChunk([]byte(`{"choices":[{"delta":{"content":"hi"}}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTextDelta, events[0].Kind)
	assert.Equal(t, "hi", events[0].TextDelta)
}

func TestOpenAIToolCallAccumulationAcrossChunks(t *testing.T) {
	n := NewOpenAI()

	_, err := n.NormalizeChunk([]byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search","arguments":""}}]}}]}`))
	require.NoError(t, err)

	_, err = n.NormalizeChunk([]byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`))
	require.NoError(t, err)

	_, err = n.NormalizeChunk([]byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`))
	require.NoError(t, err)

	events, err := n.NormalizeChunk([]byte(`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`))
	require.NoError(t, err)

	var done *Event
	var finish *Event
	for i := range events {
		switch events[i].Kind {
		case EventToolCallDone:
			done = &events[i]
		case EventFinish:
			finish = &events[i]
		}
	}
	require.NotNil(t, done)
	assert.Equal(t, "call_1", done.ToolCallID)
	assert.Equal(t, "search", done.ToolCallName)
	assert.Equal(t, `{"q":"go"}`, done.ToolCallArgsDelta)
	require.NotNil(t, finish)
	assert.Equal(t, "tool_calls", finish.FinishReason)
}

func TestOpenAICompleteResponseFlushesPending(t *testing.T) {
	n := NewOpenAI()
	_, err := n.NormalizeChunk([]byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"x","arguments":"{}"}}]}}]}`))
	require.NoError(t, err)

	events := n.CompleteResponse()
	require.Len(t, events, 1)
	assert.Equal(t, EventToolCallDone, events[0].Kind)
}

func TestOpenAIUsageChunkEmitsDistinctUsageEvent(t *testing.T) {
	n := NewOpenAI()
	events, err := n.NormalizeChunk([]byte(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventFinish, events[0].Kind)

	events, err = n.NormalizeChunk([]byte(`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventUsage, events[0].Kind)
	assert.Equal(t, 8, events[0].Usage.TotalTokens)
}

func TestOpenAIIsCompleteResponseDetectsFullBody(t *testing.T) {
	n := NewOpenAI()
	assert.False(t, n.IsCompleteResponse([]byte(`{"choices":[{"delta":{"content":"hi"}}]}`)))
	assert.True(t, n.IsCompleteResponse([]byte(`{"object":"chat.completion","choices":[{"message":{"content":"hi"},"finish_reason":"stop"}]}`)))
}

func TestOpenAIConvertCompleteResponse(t *testing.T) {
	n := NewOpenAI()
	events, err := n.ConvertCompleteResponse([]byte(`{
		"object":"chat.completion",
		"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}
	}`))
	require.NoError(t, err)

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventTextDelta)
	assert.Contains(t, kinds, EventUsage)
	assert.Equal(t, EventFinish, events[len(events)-1].Kind)
	assert.Equal(t, "stop", events[len(events)-1].FinishReason)
}

func TestOpenAIConvertCompleteResponseDefaultsFinishReason(t *testing.T) {
	n := NewOpenAI()
	events, err := n.ConvertCompleteResponse([]byte(`{"object":"chat.completion","choices":[{"message":{"content":"hi"}}]}`))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, EventFinish, events[len(events)-1].Kind)
	assert.Equal(t, "stop", events[len(events)-1].FinishReason)
}
