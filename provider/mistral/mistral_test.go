package mistral

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/provider"
)

func TestBuildRequestCarriesToolCallsAndResults(t *testing.T) {
	p := &Provider{model: modelcfg.Model{Name: "mistral-small-latest"}}

	wr := p.buildRequest(provider.Request{
		Model: p.model,
		Messages: []message.Message{
			message.User("look it up"),
			{Role: message.RoleAssistant, Parts: []message.Part{
				message.ToolCallPart{ID: "c1", Name: "search", Arguments: `{"q":"go"}`},
			}},
			message.ToolResult("c1", "found it", false),
		},
	}, false)

	require.Len(t, wr.Messages, 3)
	require.Len(t, wr.Messages[1].ToolCalls, 1)
	assert.Equal(t, "c1", wr.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "search", wr.Messages[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "c1", wr.Messages[2].ToolCallID)
	assert.Equal(t, "found it", wr.Messages[2].Content)
}

func TestBuildRequestReadsMistralSettings(t *testing.T) {
	p := &Provider{model: modelcfg.Model{Name: "magistral-small-latest"}}

	wr := p.buildRequest(provider.Request{
		Model: p.model,
		Settings: map[string]interface{}{
			"mistral_safe_prompt": true,
			"mistral_prediction":  "the answer is",
			"mistral_reasoning":   true,
		},
	}, false)

	assert.True(t, wr.SafePrompt)
	require.NotNil(t, wr.Prediction)
	assert.Equal(t, "the answer is", wr.Prediction.Content)
	assert.Equal(t, "reasoning", wr.PromptMode)
}

func TestRequestParsesToolCallResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c9","type":"function","function":{"name":"weather","arguments":"{\"city\":\"Paris\"}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`))
	}))
	defer srv.Close()

	m := modelcfg.Model{Provider: modelcfg.ProviderMistral, Name: "mistral-small-latest", BaseURL: srv.URL, APIKey: "key"}
	p, err := New(m)
	require.NoError(t, err)

	resp, err := p.Request(t.Context(), provider.Request{Model: m, Messages: []message.Message{message.User("weather in paris?")}})
	require.NoError(t, err)

	calls := resp.Message.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "c9", calls[0].ID)
	assert.Equal(t, "weather", calls[0].Name)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 20, resp.Usage.TotalTokens)
}
