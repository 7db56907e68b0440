// Package provider defines the boundary between the runner and a specific
// model backend, and a Registry that resolves a modelcfg.Provider tag to a
// constructor. Concrete backends live in the openaicompat, anthropic,
// gemini, and mistral subpackages.
package provider

import (
	"context"

	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/streamnorm"
	"github.com/nguyenthanhtuan/agentrun/structured"
	"github.com/nguyenthanhtuan/agentrun/tool"
)

// Request is everything a Provider needs to issue one model call.
type Request struct {
	Model       modelcfg.Model
	System      string
	Messages    []message.Message
	Tools       []*tool.Tool
	Temperature float64
	TopP        float64
	MaxTokens   int
	Seed        int64
	Stop        []string

	// ResponseFormat, when set, asks the backend to constrain its output
	// natively (OpenAI-style response_format). Backends without the
	// capability ignore it; the runner still validates afterwards.
	ResponseFormat *ResponseFormat

	// Guided, when set, carries a token-level decoding constraint for
	// backends that support it (vLLM, SGLang).
	Guided *structured.Guided

	// Settings carries provider-specific extensions that have no typed
	// field above. Adapters read the keys they document (e.g.
	// "anthropic_thinking_budget", "mistral_safe_prompt") and ignore the
	// rest.
	Settings map[string]interface{}
}

// ResponseFormat mirrors the OpenAI response_format request field.
type ResponseFormat struct {
	Type   string                 // "json_object" or "json_schema"
	Name   string                 // schema name, json_schema only
	Schema map[string]interface{} // JSON Schema, json_schema only
}

// Response is a completed, non-streamed model call.
type Response struct {
	Message      message.Message
	FinishReason string
	Usage        message.Usage
}

// Provider issues chat-completion calls against one backend.
type Provider interface {
	// Request performs a single synchronous call.
	Request(ctx context.Context, req Request) (Response, error)

	// RequestStream performs a streaming call, sending canonical Events to
	// the returned channel until it closes. The channel is always closed,
	// whether the stream finished normally, the context was cancelled, or
	// an EventError was produced.
	RequestStream(ctx context.Context, req Request) (<-chan streamnorm.Event, error)
}

// Constructor builds a Provider bound to the given resolved model.
type Constructor func(m modelcfg.Model) (Provider, error)

// Registry resolves a modelcfg.Provider tag to a Constructor.
type Registry struct {
	constructors map[modelcfg.Provider]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[modelcfg.Provider]Constructor)}
}

// Register adds or replaces the Constructor for tag.
func (r *Registry) Register(tag modelcfg.Provider, ctor Constructor) {
	r.constructors[tag] = ctor
}

// Build resolves m.Provider to a Constructor and invokes it.
func (r *Registry) Build(m modelcfg.Model) (Provider, error) {
	ctor, ok := r.constructors[m.Provider]
	if !ok && m.Provider.IsOpenAICompatible() {
		ctor, ok = r.constructors[fallbackTag]
	}
	if !ok {
		return nil, &UnknownProviderError{Provider: m.Provider}
	}
	return ctor(m)
}

// fallbackTag lets a Registry register one Constructor for every
// OpenAI-compatible provider instead of one entry per tag; see
// RegisterOpenAICompatFallback.
const fallbackTag = modelcfg.Provider("__openai_compat_fallback__")

// RegisterOpenAICompatFallback registers ctor to handle every provider tag
// for which modelcfg.Provider.IsOpenAICompatible is true and that has no
// more specific registration.
func (r *Registry) RegisterOpenAICompatFallback(ctor Constructor) {
	r.constructors[fallbackTag] = ctor
}

// UnknownProviderError is returned by Build when no Constructor is
// registered for a Model's provider.
type UnknownProviderError struct {
	Provider modelcfg.Provider
}

func (e *UnknownProviderError) Error() string {
	return "provider: no constructor registered for " + string(e.Provider)
}
