// Package streamnorm converts provider-specific streaming wire formats into
// agentrun's canonical Event sequence. OpenAI-compatible and Mistral
// providers route their raw SSE frames through a Normalizer; Anthropic and
// Gemini adapters produce canonical Events directly from their own SDKs and
// never touch this package.
package streamnorm

import "github.com/nguyenthanhtuan/agentrun/message"

// EventKind distinguishes the events a Normalizer emits.
type EventKind string

const (
	EventTextDelta     EventKind = "text_delta"
	EventThinkingDelta EventKind = "thinking_delta"
	EventToolCallDelta EventKind = "tool_call_delta"
	EventToolCallDone  EventKind = "tool_call_done"
	EventUsage         EventKind = "usage"
	EventFinish        EventKind = "finish"
	EventError         EventKind = "error"
)

// Event is one canonical, provider-agnostic streaming unit.
type Event struct {
	Kind EventKind

	TextDelta      string
	ThinkingDelta  string
	ThinkingSig    string
	ToolCallIndex  int
	ToolCallID     string
	ToolCallName   string
	ToolCallArgsDelta string

	FinishReason string
	Usage        message.Usage

	Err error
}

// Normalizer turns one provider's raw stream chunks into canonical Events.
// A single raw chunk can legitimately produce zero, one, or several Events
// (e.g. a finish chunk emits one EventToolCallDone per accumulated tool
// call plus a trailing EventFinish).
type Normalizer interface {
	// NormalizeChunk consumes one already-JSON-decoded wire chunk and
	// returns any canonical Events it produces.
	NormalizeChunk(raw []byte) ([]Event, error)

	// CompleteResponse is invoked once the underlying transport reports the
	// stream has ended, to flush any events buffered across chunks (e.g. a
	// tool call whose arguments never reached a terminal chunk).
	CompleteResponse() []Event

	// IsCompleteResponse reports whether raw is a full, non-streaming
	// response body rather than a streaming delta chunk (some providers
	// smuggle one complete response into what is otherwise an SSE
	// stream). Callers that detect true should route raw through
	// ConvertCompleteResponse instead of NormalizeChunk.
	IsCompleteResponse(raw []byte) bool

	// ConvertCompleteResponse decodes a full response body detected by
	// IsCompleteResponse and converts it into the same canonical Event
	// sequence NormalizeChunk would have produced across a real stream.
	ConvertCompleteResponse(raw []byte) ([]Event, error)
}
