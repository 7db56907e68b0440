package main

import (
	"context"

	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/provider"
	"github.com/nguyenthanhtuan/agentrun/provider/anthropic"
	"github.com/nguyenthanhtuan/agentrun/provider/gemini"
	"github.com/nguyenthanhtuan/agentrun/provider/mistral"
	"github.com/nguyenthanhtuan/agentrun/provider/openaicompat"
)

// buildProviderRegistry registers every backend agentctl ships with: the
// three bespoke wire formats plus one fallback constructor for every
// OpenAI-compatible provider (openai, groq, ollama, lmstudio, vllm,
// sglang, openrouter, together, custom).
func buildProviderRegistry() *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register(modelcfg.ProviderAnthropic, func(m modelcfg.Model) (provider.Provider, error) { return anthropic.New(m) })
	reg.Register(modelcfg.ProviderGemini, func(m modelcfg.Model) (provider.Provider, error) { return gemini.New(context.Background(), m) })
	reg.Register(modelcfg.ProviderMistral, func(m modelcfg.Model) (provider.Provider, error) { return mistral.New(m) })
	reg.RegisterOpenAICompatFallback(func(m modelcfg.Model) (provider.Provider, error) { return openaicompat.New(m) })
	return reg
}
