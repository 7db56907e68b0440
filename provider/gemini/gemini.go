// Package gemini implements provider.Provider over
// github.com/google/generative-ai-go/genai. Like provider/anthropic, this
// adapter produces canonical streamnorm.Events directly from the SDK's own
// stream iterator rather than routing through transport/streamnorm.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/nguyenthanhtuan/agentrun/agent/agenterr"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/provider"
	"github.com/nguyenthanhtuan/agentrun/streamnorm"
)

// Provider issues chat-completion calls against the Gemini API.
type Provider struct {
	client *genai.Client
	model  modelcfg.Model
}

// New builds a Provider bound to m. Callers must call Close when done with
// the underlying Agent/Runner, since genai.Client owns a gRPC connection.
func New(ctx context.Context, m modelcfg.Model) (provider.Provider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(m.APIKey))
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindConfiguration, "creating gemini client", err)
	}
	return &Provider{client: client, model: m}, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error { return p.client.Close() }

func (p *Provider) buildModel(req provider.Request) *genai.GenerativeModel {
	gm := p.client.GenerativeModel(req.Model.Name)
	if req.System != "" {
		gm.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		gm.Temperature = &t
	}
	if req.TopP > 0 {
		tp := float32(req.TopP)
		gm.TopP = &tp
	}
	if req.MaxTokens > 0 {
		mt := int32(req.MaxTokens)
		gm.MaxOutputTokens = &mt
	}

	if len(req.Tools) > 0 {
		var decls []*genai.FunctionDeclaration
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToGenai(t.Schema),
			})
		}
		gm.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return gm
}

func schemaToGenai(schema map[string]interface{}) *genai.Schema {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var s genai.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func toGenaiParts(m message.Message) []genai.Part {
	var parts []genai.Part
	for _, p := range m.Parts {
		switch v := p.(type) {
		case message.TextPart:
			if v.Text != "" {
				parts = append(parts, genai.Text(v.Text))
			}
		case message.ImagePart:
			if v.Source == message.ImageSourceBase64 {
				if data, err := base64.StdEncoding.DecodeString(v.Data); err == nil {
					parts = append(parts, genai.Blob{MIMEType: v.MIMEType, Data: data})
				} else {
					parts = append(parts, genai.Text("[image omitted: invalid base64 data]"))
				}
			} else {
				// genai takes inline bytes or Google-hosted file URIs, not
				// arbitrary remote URLs; this adapter does not fetch on the
				// caller's behalf, so say so in the turn instead of
				// dropping the part without a trace.
				parts = append(parts, genai.Text("[image at "+v.URL+" omitted: this backend does not accept remote image URLs]"))
			}
		case message.AudioPart:
			if data, err := base64.StdEncoding.DecodeString(v.Data); err == nil {
				parts = append(parts, genai.Blob{MIMEType: v.MIMEType, Data: data})
			} else {
				parts = append(parts, genai.Text("[audio omitted: invalid base64 data]"))
			}
		case message.ToolCallPart:
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(v.Arguments), &args)
			parts = append(parts, genai.FunctionCall{Name: v.Name, Args: args})
		case message.ToolResultPart:
			// Gemini has no call ids; the adapter sets each ToolCallPart's
			// ID to its function name so the result can address it here.
			parts = append(parts, genai.FunctionResponse{Name: v.ToolCallID, Response: map[string]interface{}{"result": v.Content}})
		}
	}
	return parts
}

func toGenaiHistory(msgs []message.Message) []*genai.Content {
	var history []*genai.Content
	for _, m := range msgs {
		role := "user"
		if m.Role == message.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: toGenaiParts(m)})
	}
	return history
}

func (p *Provider) Request(ctx context.Context, req provider.Request) (provider.Response, error) {
	gm := p.buildModel(req)
	history := toGenaiHistory(req.Messages)

	var last []genai.Part
	if len(history) > 0 {
		last = history[len(history)-1].Parts
		history = history[:len(history)-1]
	}

	cs := gm.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return provider.Response{}, agenterr.NewProvider(agenterr.ProviderServerError, "gemini request failed", err)
	}

	return convertResponse(resp), nil
}

func convertResponse(resp *genai.GenerateContentResponse) provider.Response {
	if len(resp.Candidates) == 0 {
		return provider.Response{Message: message.Message{Role: message.RoleAssistant}}
	}

	cand := resp.Candidates[0]
	var parts []message.Part
	for _, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			parts = append(parts, message.TextPart{Text: string(v)})
		case genai.FunctionCall:
			args, _ := json.Marshal(v.Args)
			parts = append(parts, message.ToolCallPart{ID: v.Name, Name: v.Name, Arguments: string(args)})
		}
	}

	var usage message.Usage
	if resp.UsageMetadata != nil {
		usage = message.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return provider.Response{
		Message:      message.Message{Role: message.RoleAssistant, Parts: parts},
		FinishReason: fmt.Sprintf("%v", cand.FinishReason),
		Usage:        usage,
	}
}

func (p *Provider) RequestStream(ctx context.Context, req provider.Request) (<-chan streamnorm.Event, error) {
	gm := p.buildModel(req)
	history := toGenaiHistory(req.Messages)

	var last []genai.Part
	if len(history) > 0 {
		last = history[len(history)-1].Parts
		history = history[:len(history)-1]
	}

	cs := gm.StartChat()
	cs.History = history
	iter := cs.SendMessageStream(ctx, last...)

	out := make(chan streamnorm.Event)
	go func() {
		defer close(out)
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				out <- streamnorm.Event{Kind: streamnorm.EventError, Err: fmt.Errorf("gemini stream: %w", err)}
				return
			}

			converted := convertResponse(resp)
			for _, p := range converted.Message.Parts {
				switch v := p.(type) {
				case message.TextPart:
					out <- streamnorm.Event{Kind: streamnorm.EventTextDelta, TextDelta: v.Text}
				case message.ToolCallPart:
					out <- streamnorm.Event{Kind: streamnorm.EventToolCallDone, ToolCallID: v.ID, ToolCallName: v.Name, ToolCallArgsDelta: v.Arguments}
				}
			}
			if converted.FinishReason != "" && converted.FinishReason != "0" {
				out <- streamnorm.Event{Kind: streamnorm.EventFinish, FinishReason: converted.FinishReason, Usage: converted.Usage}
			}
		}
	}()

	return out, nil
}
