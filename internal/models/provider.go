package models

import "time"

// ProviderKind selects the adapter used to talk to a provider.
type ProviderKind string

const (
	// ProviderKindOpenAI covers OpenAI and every OpenAI-compatible endpoint
	// (Ollama, LM Studio, xAI Grok, OpenRouter, DeepSeek, Groq).
	ProviderKindOpenAI ProviderKind = "openai"
	// ProviderKindGemini is Google's Gemini API.
	ProviderKindGemini ProviderKind = "gemini"
)

// ProviderConfig describes one configured LLM provider.
type ProviderConfig struct {
	ID                string        `json:"id" toml:"id"`
	Kind              ProviderKind  `json:"kind" toml:"kind"`
	Model             string        `json:"model" toml:"model"`
	BaseURL           string        `json:"base_url,omitempty" toml:"base_url"`
	APIKey            string        `json:"-" toml:"api_key"`
	APIKeyEnv         string        `json:"-" toml:"api_key_env"`
	Active            bool          `json:"active" toml:"active"`
	Local             bool          `json:"local" toml:"local"`
	Temperature       float64       `json:"temperature,omitempty" toml:"temperature"`
	MaxTokens         int           `json:"max_tokens,omitempty" toml:"max_tokens"`
	Timeout           time.Duration `json:"timeout,omitempty" toml:"-"`
	RequestsPerMinute int           `json:"requests_per_minute,omitempty" toml:"requests_per_minute"`
}

// Available reports whether the provider can be called at all.
// Local providers need no credentials; remote providers need an API key.
func (p ProviderConfig) Available() bool {
	if p.Model == "" {
		return false
	}
	return p.Local || p.APIKey != ""
}
