// Package mistral implements provider.Provider for the Mistral API, which
// is close to but not identical to the OpenAI wire format: it additionally
// accepts "safe_prompt", "prediction", and a "reasoning" toggle that
// provider/openaicompat has no place for, justifying a distinct adapter
// built on the same transport.Client plumbing.
//
// Request settings read from provider.Request.Settings:
//
//	mistral_safe_prompt (bool)   - inject Mistral's safety prompt
//	mistral_prediction  (string) - predicted-output text
//	mistral_reasoning   (bool)   - select the reasoning prompt mode
package mistral

import (
	"context"

	"github.com/nguyenthanhtuan/agentrun/agent/agenterr"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/provider"
	"github.com/nguyenthanhtuan/agentrun/streamnorm"
	"github.com/nguyenthanhtuan/agentrun/transport"
)

// Provider issues chat-completion calls against the Mistral API.
type Provider struct {
	client *transport.Client
	model  modelcfg.Model
}

// New builds a Provider bound to m.
func New(m modelcfg.Model) (provider.Provider, error) {
	client := transport.New(m.BaseURL, m.APIKey, nil)
	if m.Timeout > 0 {
		client.HTTP.Timeout = m.Timeout
	}
	return &Provider{client: client, model: m}, nil
}

// wireMessage's Content is a plain string for text-only turns and a
// []wireContentPart array when the turn carries images, the two content
// encodings the Mistral chat schema accepts.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    interface{}    `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type wirePrediction struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type wireResponseFormat struct {
	Type       string              `json:"type"`
	JSONSchema *wireJSONSchemaSpec `json:"json_schema,omitempty"`
}

type wireJSONSchemaSpec struct {
	Name   string                 `json:"name"`
	Schema map[string]interface{} `json:"schema"`
	Strict bool                   `json:"strict"`
}

type wireRequest struct {
	Model          string              `json:"model"`
	Messages       []wireMessage       `json:"messages"`
	Tools          []wireTool          `json:"tools,omitempty"`
	Temperature    float64             `json:"temperature,omitempty"`
	TopP           float64             `json:"top_p,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	SafePrompt     bool                `json:"safe_prompt,omitempty"`
	Prediction     *wirePrediction     `json:"prediction,omitempty"`
	PromptMode     string              `json:"prompt_mode,omitempty"`
	ResponseFormat *wireResponseFormat `json:"response_format,omitempty"`
	Stream         bool                `json:"stream,omitempty"`
}

// wireRespMessage is the response-side message shape, where content is
// always a plain string.
type wireRespMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireRespMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) buildRequest(req provider.Request, stream bool) wireRequest {
	wr := wireRequest{
		Model:       req.Model.Name,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}

	if safe, _ := req.Settings["mistral_safe_prompt"].(bool); safe {
		wr.SafePrompt = true
	}
	if prediction, _ := req.Settings["mistral_prediction"].(string); prediction != "" {
		wr.Prediction = &wirePrediction{Type: "content", Content: prediction}
	}
	if reasoning, _ := req.Settings["mistral_reasoning"].(bool); reasoning {
		wr.PromptMode = "reasoning"
	}
	if rf := req.ResponseFormat; rf != nil {
		wr.ResponseFormat = &wireResponseFormat{Type: rf.Type}
		if rf.Type == "json_schema" {
			wr.ResponseFormat.JSONSchema = &wireJSONSchemaSpec{Name: rf.Name, Schema: rf.Schema, Strict: true}
		}
	}

	if req.System != "" {
		wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, toWireMessage(m))
	}

	for _, t := range req.Tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Schema
		wr.Tools = append(wr.Tools, wt)
	}

	return wr
}

func toWireMessage(m message.Message) wireMessage {
	wm := wireMessage{Role: string(m.Role)}

	var contentParts []wireContentPart
	multimodal := false
	for _, p := range m.Parts {
		switch v := p.(type) {
		case message.TextPart:
			contentParts = append(contentParts, wireContentPart{Type: "text", Text: v.Text})
		case message.ImagePart:
			url := v.URL
			if v.Source == message.ImageSourceBase64 {
				url = "data:" + v.MIMEType + ";base64," + v.Data
			}
			contentParts = append(contentParts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: url}})
			multimodal = true
		case message.AudioPart:
			// The chat endpoint takes no audio input; say so in the turn
			// instead of dropping the part without a trace.
			contentParts = append(contentParts, wireContentPart{Type: "text", Text: "[audio content omitted: this backend does not accept audio input]"})
		case message.ToolCallPart:
			tc := wireToolCall{ID: v.ID, Type: "function"}
			tc.Function.Name = v.Name
			tc.Function.Arguments = v.Arguments
			wm.ToolCalls = append(wm.ToolCalls, tc)
		case message.ToolResultPart:
			wm.ToolCallID = v.ToolCallID
			wm.Content = v.Content
		}
	}

	if wm.ToolCallID != "" {
		return wm
	}
	if multimodal {
		wm.Content = contentParts
	} else {
		var text string
		for _, cp := range contentParts {
			text += cp.Text
		}
		wm.Content = text
	}
	return wm
}

func (p *Provider) Request(ctx context.Context, req provider.Request) (provider.Response, error) {
	wr := p.buildRequest(req, false)

	var resp wireResponse
	if err := p.client.Do(ctx, "/chat/completions", wr, &resp); err != nil {
		return provider.Response{}, classifyTransportErr(err)
	}
	if len(resp.Choices) == 0 {
		return provider.Response{}, agenterr.New(agenterr.KindProvider, "empty choices in response")
	}

	choice := resp.Choices[0]
	var parts []message.Part
	if choice.Message.Content != "" {
		parts = append(parts, message.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, message.ToolCallPart{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}

	return provider.Response{
		Message:      message.Message{Role: message.RoleAssistant, Parts: parts},
		FinishReason: choice.FinishReason,
		Usage: message.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *Provider) RequestStream(ctx context.Context, req provider.Request) (<-chan streamnorm.Event, error) {
	wr := p.buildRequest(req, true)

	stream, err := p.client.DoStream(ctx, "/chat/completions", wr)
	if err != nil {
		return nil, classifyTransportErr(err)
	}

	out := make(chan streamnorm.Event)
	go func() {
		defer close(out)
		defer stream.Close()
		provider.PumpSSE(ctx, stream, streamnorm.NewMistral(), out)
	}()

	return out, nil
}

func classifyTransportErr(err error) error {
	te, ok := err.(*transport.Error)
	if !ok {
		return agenterr.Wrap(agenterr.KindProvider, "request failed", err)
	}
	kind := agenterr.ProviderServerError
	switch te.Kind {
	case transport.ErrorKindAuth:
		kind = agenterr.ProviderAuth
	case transport.ErrorKindRateLimited:
		kind = agenterr.ProviderRateLimited
	case transport.ErrorKindBadRequest:
		kind = agenterr.ProviderBadRequest
	case transport.ErrorKindNetwork:
		kind = agenterr.ProviderNetwork
	}
	return agenterr.NewProvider(kind, te.Message, te)
}
