// Package anthropic implements provider.Provider over
// github.com/anthropics/anthropic-sdk-go. Unlike provider/openaicompat,
// this adapter does not route through transport/streamnorm: it produces
// canonical streamnorm.Events directly from the SDK's own streaming
// iterator, since the SDK already exposes a structured event stream
// instead of raw bytes.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nguyenthanhtuan/agentrun/agent/agenterr"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/provider"
	"github.com/nguyenthanhtuan/agentrun/streamnorm"
)

// Request settings read from provider.Request.Settings:
//
//	anthropic_context_1m      (bool) - opt into the 1M-token context beta
//	anthropic_thinking_budget (int)  - enable extended thinking with this
//	                                   token budget

// Provider issues chat-completion calls against the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
	model  modelcfg.Model
}

// New builds a Provider bound to m.
func New(m modelcfg.Model) (provider.Provider, error) {
	opts := []option.RequestOption{option.WithAPIKey(m.APIKey)}
	if m.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(m.BaseURL))
	}
	return &Provider{client: anthropic.NewClient(opts...), model: m}, nil
}

func maxTokensOrDefault(n int) int64 {
	if n > 0 {
		return int64(n)
	}
	return 4096
}

func buildParams(req provider.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model.Name),
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}

	for _, m := range req.Messages {
		params.Messages = append(params.Messages, toAnthropicMessage(m))
	}

	for _, t := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Schema["properties"]}
		if required, ok := t.Schema["required"].([]string); ok && len(required) > 0 {
			schema.ExtraFields = map[string]interface{}{"required": required}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}

	if budget, ok := intSetting(req.Settings, "anthropic_thinking_budget"); ok && budget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}

	return params
}

// requestOptions builds the per-call options a request's settings ask for,
// currently just the 1M-context beta header.
func requestOptions(req provider.Request) []option.RequestOption {
	var opts []option.RequestOption
	if on, _ := req.Settings["anthropic_context_1m"].(bool); on {
		opts = append(opts, option.WithHeaderAdd("anthropic-beta", "context-1m-2025-08-07"))
	}
	return opts
}

func intSetting(settings map[string]interface{}, key string) (int, bool) {
	switch v := settings[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func toAnthropicMessage(m message.Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == message.RoleAssistant {
		role = anthropic.MessageParamRoleAssistant
	}

	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range m.Parts {
		switch v := p.(type) {
		case message.TextPart:
			if v.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			}
		case message.ImagePart:
			blocks = append(blocks, anthropic.ContentBlockParamUnion{OfImage: imageBlock(v)})
		case message.AudioPart:
			// The Messages API has no audio input block; say so in the
			// turn instead of dropping the part without a trace.
			blocks = append(blocks, anthropic.NewTextBlock("[audio content omitted: this backend does not accept audio input]"))
		case message.ToolCallPart:
			blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, json.RawMessage(v.Arguments), v.Name))
		case message.ToolResultPart:
			blocks = append(blocks, anthropic.NewToolResultBlock(v.ToolCallID, v.Content, v.IsError))
		}
	}

	return anthropic.MessageParam{Role: role, Content: blocks}
}

func imageBlock(p message.ImagePart) *anthropic.ImageBlockParam {
	if p.Source == message.ImageSourceBase64 {
		return &anthropic.ImageBlockParam{
			Source: anthropic.ImageBlockParamSourceUnion{
				OfBase64: &anthropic.Base64ImageSourceParam{
					Data:      p.Data,
					MediaType: anthropic.Base64ImageSourceMediaType(p.MIMEType),
				},
			},
		}
	}
	return &anthropic.ImageBlockParam{
		Source: anthropic.ImageBlockParamSourceUnion{
			OfURL: &anthropic.URLImageSourceParam{URL: p.URL},
		},
	}
}

func (p *Provider) Request(ctx context.Context, req provider.Request) (provider.Response, error) {
	params := buildParams(req)

	resp, err := p.client.Messages.New(ctx, params, requestOptions(req)...)
	if err != nil {
		return provider.Response{}, classifyAPIErr(err)
	}

	var parts []message.Part
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			parts = append(parts, message.TextPart{Text: b.Text})
		case anthropic.ThinkingBlock:
			parts = append(parts, message.ThinkingPart{Text: b.Thinking, Signature: b.Signature})
		case anthropic.ToolUseBlock:
			parts = append(parts, message.ToolCallPart{ID: b.ID, Name: b.Name, Arguments: string(b.Input)})
		}
	}

	return provider.Response{
		Message:      message.Message{Role: message.RoleAssistant, Parts: parts},
		FinishReason: string(resp.StopReason),
		Usage: message.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// classifyAPIErr maps the SDK's HTTP error onto the provider taxonomy so
// auth and quota failures keep their retryability semantics.
func classifyAPIErr(err error) error {
	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		return agenterr.NewProvider(agenterr.ProviderServerError, "anthropic request failed", err)
	}
	kind := agenterr.ProviderServerError
	switch {
	case apierr.StatusCode == 401 || apierr.StatusCode == 403:
		kind = agenterr.ProviderAuth
	case apierr.StatusCode == 429:
		kind = agenterr.ProviderRateLimited
	case apierr.StatusCode >= 400 && apierr.StatusCode < 500:
		kind = agenterr.ProviderBadRequest
	}
	return agenterr.NewProvider(kind, apierr.Error(), err)
}

func (p *Provider) RequestStream(ctx context.Context, req provider.Request) (<-chan streamnorm.Event, error) {
	params := buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params, requestOptions(req)...)

	out := make(chan streamnorm.Event)
	go func() {
		defer close(out)

		toolIndex := -1
		for stream.Next() {
			event := stream.Current()
			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tu, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					toolIndex++
					out <- streamnorm.Event{
						Kind:          streamnorm.EventToolCallDelta,
						ToolCallIndex: toolIndex,
						ToolCallID:    tu.ID,
						ToolCallName:  tu.Name,
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch d := e.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- streamnorm.Event{Kind: streamnorm.EventTextDelta, TextDelta: d.Text}
				case anthropic.InputJSONDelta:
					out <- streamnorm.Event{
						Kind:              streamnorm.EventToolCallDelta,
						ToolCallIndex:      toolIndex,
						ToolCallArgsDelta:  d.PartialJSON,
					}
				case anthropic.ThinkingDelta:
					out <- streamnorm.Event{Kind: streamnorm.EventThinkingDelta, ThinkingDelta: d.Thinking}
				}
			case anthropic.MessageDeltaEvent:
				out <- streamnorm.Event{Kind: streamnorm.EventUsage, Usage: message.Usage{
					PromptTokens:     int(e.Usage.InputTokens),
					CompletionTokens: int(e.Usage.OutputTokens),
					TotalTokens:      int(e.Usage.InputTokens + e.Usage.OutputTokens),
				}}
				out <- streamnorm.Event{
					Kind:         streamnorm.EventFinish,
					FinishReason: string(e.Delta.StopReason),
				}
			}
		}

		if err := stream.Err(); err != nil {
			out <- streamnorm.Event{Kind: streamnorm.EventError, Err: fmt.Errorf("anthropic stream: %w", err)}
		}
	}()

	return out, nil
}
