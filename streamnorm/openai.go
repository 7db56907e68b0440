package streamnorm

import (
	"encoding/json"

	"github.com/nguyenthanhtuan/agentrun/message"
)

// openaiChunk is the minimal shape of an OpenAI-compatible chat-completion
// streaming chunk this package needs to decode.
type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"` // DeepSeek-R1/Qwen3-style reasoning models served via Ollama
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// toolCallAccumulator buffers a tool call's arguments across chunks, since
// OpenAI streams a tool call's JSON arguments as a sequence of string
// fragments identified only by index.
type toolCallAccumulator struct {
	id   string
	name string
	args string
}

// OpenAI normalizes the OpenAI chat-completions streaming format. It is
// reused, unmodified, by every OpenAI-compatible provider (Groq, Ollama, LM
// Studio, vLLM, SGLang, OpenRouter, Together, custom) since they all share
// this wire shape.
type OpenAI struct {
	calls map[int]*toolCallAccumulator
}

// NewOpenAI returns a fresh Normalizer for one stream.
func NewOpenAI() *OpenAI {
	return &OpenAI{calls: make(map[int]*toolCallAccumulator)}
}

func (n *OpenAI) NormalizeChunk(raw []byte) ([]Event, error) {
	var chunk openaiChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, err
	}

	var events []Event
	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			events = append(events, n.usageEvent(chunk))
		}
		return events, nil
	}

	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		events = append(events, Event{Kind: EventTextDelta, TextDelta: choice.Delta.Content})
	}
	if choice.Delta.Reasoning != "" {
		events = append(events, Event{Kind: EventThinkingDelta, ThinkingDelta: choice.Delta.Reasoning})
	}

	for _, tc := range choice.Delta.ToolCalls {
		acc, ok := n.calls[tc.Index]
		if !ok {
			acc = &toolCallAccumulator{}
			n.calls[tc.Index] = acc
		}
		if tc.ID != "" {
			acc.id = tc.ID
		}
		if tc.Function.Name != "" {
			acc.name = tc.Function.Name
		}
		acc.args += tc.Function.Arguments

		events = append(events, Event{
			Kind:              EventToolCallDelta,
			ToolCallIndex:      tc.Index,
			ToolCallID:         acc.id,
			ToolCallName:       acc.name,
			ToolCallArgsDelta:  tc.Function.Arguments,
		})
	}

	if choice.FinishReason != nil {
		events = append(events, n.flushToolCalls()...)
		events = append(events, Event{Kind: EventFinish, FinishReason: *choice.FinishReason})
	}

	if chunk.Usage != nil {
		events = append(events, n.usageEvent(chunk))
	}

	return events, nil
}

func (n *OpenAI) usageEvent(chunk openaiChunk) Event {
	return Event{
		Kind: EventUsage,
		Usage: message.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		},
	}
}

func (n *OpenAI) flushToolCalls() []Event {
	if len(n.calls) == 0 {
		return nil
	}
	events := make([]Event, 0, len(n.calls))
	for idx, acc := range n.calls {
		events = append(events, Event{
			Kind:              EventToolCallDone,
			ToolCallIndex:      idx,
			ToolCallID:         acc.id,
			ToolCallName:       acc.name,
			ToolCallArgsDelta:  acc.args,
		})
	}
	n.calls = make(map[int]*toolCallAccumulator)
	return events
}

func (n *OpenAI) CompleteResponse() []Event {
	return n.flushToolCalls()
}

// openaiCompleteResponse is the non-streaming chat-completion response
// shape a provider occasionally returns over what was requested as an SSE
// stream (e.g. a proxy that doesn't support streaming falls back silently).
type openaiCompleteResponse struct {
	Object  string `json:"object"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// IsCompleteResponse reports whether raw is a full chat-completion object
// (carrying choices[].message) rather than a streaming delta chunk
// (carrying choices[].delta).
func (n *OpenAI) IsCompleteResponse(raw []byte) bool {
	var probe struct {
		Object  string `json:"object"`
		Choices []struct {
			Message json.RawMessage `json:"message"`
			Delta   json.RawMessage `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	if probe.Object == "chat.completion" {
		return true
	}
	for _, c := range probe.Choices {
		if len(c.Message) > 0 && len(c.Delta) == 0 {
			return true
		}
	}
	return false
}

// ConvertCompleteResponse decodes a full chat-completion response and
// replays it as the event sequence NormalizeChunk would have produced for
// an equivalent stream: a tool_call_done per call, a text/thinking delta
// for the message content, a usage event, and a trailing finish.
func (n *OpenAI) ConvertCompleteResponse(raw []byte) ([]Event, error) {
	var resp openaiCompleteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	choice := resp.Choices[0]

	var events []Event
	if choice.Message.Content != "" {
		events = append(events, Event{Kind: EventTextDelta, TextDelta: choice.Message.Content})
	}
	if choice.Message.Reasoning != "" {
		events = append(events, Event{Kind: EventThinkingDelta, ThinkingDelta: choice.Message.Reasoning})
	}
	for i, tc := range choice.Message.ToolCalls {
		events = append(events, Event{
			Kind:              EventToolCallDone,
			ToolCallIndex:     i,
			ToolCallID:        tc.ID,
			ToolCallName:      tc.Function.Name,
			ToolCallArgsDelta: tc.Function.Arguments,
		})
	}
	if resp.Usage != nil {
		events = append(events, Event{
			Kind: EventUsage,
			Usage: message.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		})
	}
	finish := choice.FinishReason
	if finish == "" {
		finish = "stop"
	}
	events = append(events, Event{Kind: EventFinish, FinishReason: finish})
	return events, nil
}
