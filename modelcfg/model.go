// Package modelcfg parses the "provider:model" strings used throughout
// agentrun to select a backend, resolving each tag to its default base
// URL, API key environment variable, and any required overrides.
package modelcfg

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nguyenthanhtuan/agentrun/agent/agenterr"
)

// Provider identifies a backend family. Several providers share the
// OpenAI-compatible wire format (see provider/openaicompat).
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic   Provider = "anthropic"
	ProviderGemini      Provider = "gemini"
	ProviderMistral     Provider = "mistral"
	ProviderGroq        Provider = "groq"
	ProviderOllama      Provider = "ollama"
	ProviderLMStudio    Provider = "lmstudio"
	ProviderVLLM        Provider = "vllm"
	ProviderSGLang      Provider = "sglang"
	ProviderOpenRouter  Provider = "openrouter"
	ProviderTogether    Provider = "together"
	ProviderCustom      Provider = "custom"
)

type providerDefault struct {
	baseURL   string
	apiKeyEnv string
	// requiresBaseURL is true for local/self-hosted backends that have no
	// sensible hardcoded default and must come from an env var or Option.
	requiresBaseURL bool
	baseURLEnv      string
}

var providerDefaults = map[Provider]providerDefault{
	ProviderOpenAI:     {baseURL: "https://api.openai.com/v1", apiKeyEnv: "OPENAI_API_KEY"},
	ProviderAnthropic:  {baseURL: "https://api.anthropic.com", apiKeyEnv: "ANTHROPIC_API_KEY"},
	ProviderGemini:     {baseURL: "https://generativelanguage.googleapis.com", apiKeyEnv: "GEMINI_API_KEY"},
	ProviderMistral:    {baseURL: "https://api.mistral.ai/v1", apiKeyEnv: "MISTRAL_API_KEY"},
	ProviderGroq:       {baseURL: "https://api.groq.com/openai/v1", apiKeyEnv: "GROQ_API_KEY"},
	ProviderOpenRouter: {baseURL: "https://openrouter.ai/api/v1", apiKeyEnv: "OPENROUTER_API_KEY"},
	ProviderTogether:   {baseURL: "https://api.together.xyz/v1", apiKeyEnv: "TOGETHER_API_KEY"},
	ProviderOllama:     {baseURL: "http://localhost:11434/v1", apiKeyEnv: "", baseURLEnv: "OLLAMA_HOST"},
	ProviderLMStudio:   {baseURL: "http://localhost:1234/v1", apiKeyEnv: ""},
	ProviderVLLM:       {requiresBaseURL: true, baseURLEnv: "VLLM_BASE_URL", apiKeyEnv: "VLLM_API_KEY"},
	ProviderSGLang:     {requiresBaseURL: true, baseURLEnv: "SGLANG_BASE_URL", apiKeyEnv: "SGLANG_API_KEY"},
	ProviderCustom:     {requiresBaseURL: true, baseURLEnv: "CUSTOM_BASE_URL", apiKeyEnv: "CUSTOM_API_KEY"},
}

// Model is the fully resolved, immutable configuration for one provider
// endpoint: which backend, which model name at that backend, and how to
// authenticate and connect to it.
type Model struct {
	Provider Provider
	Name     string // the model name as understood by Provider, e.g. "gpt-4o-mini"
	BaseURL  string
	APIKey   string

	// Timeout bounds each HTTP request issued against this endpoint.
	// Zero means the transport's default.
	Timeout time.Duration

	// DefaultSettings are provider-specific request extensions applied to
	// every request against this model, overridable per agent.
	DefaultSettings map[string]interface{}

	// StreamNormalizer overrides which wire-format normalizer an
	// OpenAI-compatible adapter frames this model's stream with
	// ("openai", the default, or "mistral" for proxies that relay
	// Mistral-shaped chunks).
	StreamNormalizer string
}

// Option customizes Parse's result after defaults are applied.
type Option func(*Model)

// WithAPIKey overrides the API key Parse would otherwise read from the
// provider's default environment variable.
func WithAPIKey(key string) Option {
	return func(m *Model) { m.APIKey = key }
}

// WithBaseURL overrides the provider's default (or env-derived) base URL.
func WithBaseURL(url string) Option {
	return func(m *Model) { m.BaseURL = url }
}

// WithTimeout bounds each HTTP request issued against this endpoint.
func WithTimeout(d time.Duration) Option {
	return func(m *Model) { m.Timeout = d }
}

// WithDefaultSettings attaches provider-specific request extensions
// applied to every request against this model.
func WithDefaultSettings(settings map[string]interface{}) Option {
	return func(m *Model) { m.DefaultSettings = settings }
}

// WithStreamNormalizer selects the stream normalizer an OpenAI-compatible
// adapter uses for this model's streams.
func WithStreamNormalizer(name string) Option {
	return func(m *Model) { m.StreamNormalizer = name }
}

// Parse splits a "provider:model" string and resolves it to a Model,
// applying provider-specific defaults and environment-variable fallbacks
// for the base URL and API key, then any Options in order.
func Parse(spec string, opts ...Option) (Model, error) {
	idx := strings.Index(spec, ":")
	if idx <= 0 {
		return Model{}, agenterr.New(agenterr.KindConfiguration,
			fmt.Sprintf("model string %q must be of the form provider:model", spec))
	}

	tag := Provider(strings.ToLower(spec[:idx]))
	name := spec[idx+1:]
	if name == "" {
		return Model{}, agenterr.New(agenterr.KindConfiguration,
			fmt.Sprintf("model string %q is missing a model name after the provider", spec))
	}

	def, ok := providerDefaults[tag]
	if !ok {
		return Model{}, agenterr.New(agenterr.KindConfiguration,
			fmt.Sprintf("unknown provider %q in model string %q", tag, spec))
	}

	m := Model{Provider: tag, Name: name, BaseURL: def.baseURL}

	if def.apiKeyEnv != "" {
		m.APIKey = os.Getenv(def.apiKeyEnv)
	}
	if def.baseURLEnv != "" {
		if v := os.Getenv(def.baseURLEnv); v != "" {
			m.BaseURL = v
		}
	}

	for _, opt := range opts {
		opt(&m)
	}

	if def.requiresBaseURL && m.BaseURL == "" {
		return Model{}, agenterr.New(agenterr.KindConfiguration,
			fmt.Sprintf("provider %q requires a base URL (set %s or use WithBaseURL)", tag, def.baseURLEnv))
	}

	return m, nil
}

// IsOpenAICompatible reports whether p shares the OpenAI chat-completions
// wire format, handled uniformly by provider/openaicompat.
func (p Provider) IsOpenAICompatible() bool {
	switch p {
	case ProviderOpenAI, ProviderGroq, ProviderOllama, ProviderLMStudio,
		ProviderVLLM, ProviderSGLang, ProviderOpenRouter, ProviderTogether, ProviderCustom:
		return true
	default:
		return false
	}
}
