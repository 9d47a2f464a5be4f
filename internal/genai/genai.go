// Package genai provides the LLM provider adapters used by the router.
//
// Every adapter takes a provider-neutral conversation and returns the first
// completion text plus token usage. OpenAI and every OpenAI-compatible endpoint
// (Ollama, LM Studio, xAI, OpenRouter, DeepSeek, Groq) share OpenAIClient;
// Gemini has its own adapter.
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Error variables for adapter failures.
var (
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrEmptyResponse     = errors.New("provider returned an empty response")
	ErrMissingAPIKey     = errors.New("API key not set")
	ErrNoMessages        = errors.New("no messages to send")
	ErrUnknownKind       = errors.New("unknown provider kind")
)

// Completion is a provider's answer to one request.
type Completion struct {
	Content    string
	TokensUsed int
	Model      string
}

// Adapter is implemented by every provider client.
type Adapter interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (Completion, error)
}

// NewAdapter builds the adapter for cfg. debugDir enables request/response
// dumps for OpenAI-compatible providers when non-empty.
func NewAdapter(ctx context.Context, cfg models.ProviderConfig, debugDir string) (Adapter, error) {
	switch cfg.Kind {
	case models.ProviderKindOpenAI, "":
		opts := []Option{
			WithAPIKey(cfg.APIKey),
			WithBaseURL(cfg.BaseURL),
			WithModel(cfg.Model),
			WithTemperature(cfg.Temperature),
			WithMaxTokens(cfg.MaxTokens),
			WithAllowNoKey(cfg.Local),
		}
		if debugDir != "" {
			opts = append(opts, WithDebugMode(true), WithStateDir(debugDir))
		}
		return NewOpenAIClient(opts...)
	case models.ProviderKindGemini:
		return NewGeminiClient(ctx,
			WithAPIKey(cfg.APIKey),
			WithModel(cfg.Model),
			WithTemperature(cfg.Temperature),
			WithMaxTokens(cfg.MaxTokens),
		)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// splitSystem separates leading instructions from the conversation turns.
// Every system message is joined into one instruction block.
func splitSystem(messages []models.ChatMessage) (string, []models.ChatMessage) {
	var system []string
	turns := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}
