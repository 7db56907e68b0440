package streamnorm

import (
	"encoding/json"

	"github.com/nguyenthanhtuan/agentrun/message"
)

// mistralChunk matches the Mistral streaming chat-completion shape, which
// differs from OpenAI's mainly in field names for reasoning/prediction
// controls that don't appear in a streamed delta but whose presence in the
// request shape (see provider/mistral) justifies keeping this as a
// distinct Normalizer rather than reusing OpenAI's.
type mistralChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
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

// Mistral normalizes the Mistral chat-completions streaming format.
type Mistral struct {
	calls map[int]*toolCallAccumulator
}

// NewMistral returns a fresh Normalizer for one stream.
func NewMistral() *Mistral {
	return &Mistral{calls: make(map[int]*toolCallAccumulator)}
}

func (n *Mistral) NormalizeChunk(raw []byte) ([]Event, error) {
	var chunk mistralChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, err
	}
	if len(chunk.Choices) == 0 {
		return nil, nil
	}

	var events []Event
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		events = append(events, Event{Kind: EventTextDelta, TextDelta: choice.Delta.Content})
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
			Kind:             EventToolCallDelta,
			ToolCallIndex:     tc.Index,
			ToolCallID:        acc.id,
			ToolCallName:      acc.name,
			ToolCallArgsDelta: tc.Function.Arguments,
		})
	}

	if choice.FinishReason != nil {
		for idx, acc := range n.calls {
			events = append(events, Event{
				Kind:             EventToolCallDone,
				ToolCallIndex:     idx,
				ToolCallID:        acc.id,
				ToolCallName:      acc.name,
				ToolCallArgsDelta: acc.args,
			})
		}
		n.calls = make(map[int]*toolCallAccumulator)
		events = append(events, Event{Kind: EventFinish, FinishReason: *choice.FinishReason})
	}

	if chunk.Usage != nil {
		events = append(events, Event{
			Kind: EventUsage,
			Usage: message.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			},
		})
	}

	return events, nil
}

func (n *Mistral) CompleteResponse() []Event {
	if len(n.calls) == 0 {
		return nil
	}
	events := make([]Event, 0, len(n.calls))
	for idx, acc := range n.calls {
		events = append(events, Event{
			Kind:             EventToolCallDone,
			ToolCallIndex:     idx,
			ToolCallID:        acc.id,
			ToolCallName:      acc.name,
			ToolCallArgsDelta: acc.args,
		})
	}
	n.calls = make(map[int]*toolCallAccumulator)
	return events
}

// mistralCompleteResponse is the non-streaming chat-completion shape a
// provider occasionally returns over what was requested as an SSE stream.
type mistralCompleteResponse struct {
	Object  string `json:"object"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
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
// (carrying choices[].message) rather than a streaming delta chunk.
func (n *Mistral) IsCompleteResponse(raw []byte) bool {
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
// an equivalent stream.
func (n *Mistral) ConvertCompleteResponse(raw []byte) ([]Event, error) {
	var resp mistralCompleteResponse
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
