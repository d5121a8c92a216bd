// Package provider constructs llm.Client implementations by provider name.
package provider

import (
	"fmt"
	"strings"

	"agentcore/pkg/llm"
	"agentcore/pkg/llm/provider/anthropic"
	"agentcore/pkg/llm/provider/google"
	"agentcore/pkg/llm/provider/ollama"
	"agentcore/pkg/llm/provider/openaicompat"
)

// Known provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Config selects and parameterizes a provider client.
type Config struct {
	Provider string // one of the Provider constants; inferred from Model when empty
	Model    string
	APIKey   string
	BaseURL  string // optional override; required only for OpenAI-compatible servers
}

// patterns maps model name prefixes to providers for configs that name only
// a model.
var patterns = []struct {
	prefix   string
	provider string
}{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"kimi", ProviderOpenAI}, // Chat Completions compatible, needs BaseURL
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
}

// Detect infers the provider from a model name.
func Detect(model string) (string, error) {
	lower := strings.ToLower(model)
	for _, p := range patterns {
		if strings.HasPrefix(lower, p.prefix) {
			return p.provider, nil
		}
	}
	return "", fmt.Errorf("cannot determine provider for model %q: set the provider explicitly", model)
}

// New builds a client for the configured provider.
func New(cfg Config) (llm.Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}

	name := cfg.Provider
	if name == "" {
		detected, err := Detect(cfg.Model)
		if err != nil {
			return nil, err
		}
		name = detected
	}

	switch name {
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider %s requires an API key", name)
		}
		return anthropic.New(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider %s requires an API key", name)
		}
		return openaicompat.New(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider %s requires an API key", name)
		}
		return google.New(cfg.APIKey, cfg.Model), nil
	case ProviderOllama:
		return ollama.New(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (known: %s, %s, %s, %s)",
			name, ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama)
	}
}
