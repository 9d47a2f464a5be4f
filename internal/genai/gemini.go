package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

// geminiBackend sends one chat turn. Implemented by the SDK model and by test fakes.
type geminiBackend interface {
	Send(ctx context.Context, system string, history []*genai.Content, prompt string) (*genai.GenerateContentResponse, error)
}

type sdkBackend struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

func (b *sdkBackend) Send(ctx context.Context, system string, history []*genai.Content, prompt string) (*genai.GenerateContentResponse, error) {
	// A fresh model per call keeps SystemInstruction scoped to this request.
	m := b.client.GenerativeModel(b.model)
	if system != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	if b.temperature > 0 {
		m.SetTemperature(float32(b.temperature))
	}
	if b.maxTokens > 0 {
		m.SetMaxOutputTokens(int32(b.maxTokens))
	}
	cs := m.StartChat()
	cs.History = history
	return cs.SendMessage(ctx, genai.Text(prompt))
}

// GeminiClient is the adapter for Google's Gemini API.
type GeminiClient struct {
	backend geminiBackend
	client  *genai.Client
	model   string
}

// NewGeminiClient creates a Gemini adapter. An API key is required.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	o := buildOpts(opts)
	if o.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(o.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := o.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{
		backend: &sdkBackend{client: client, model: model, temperature: o.Temperature, maxTokens: o.MaxTokens},
		client:  client,
		model:   model,
	}, nil
}

// Complete sends the conversation to Gemini. The last turn is the prompt; earlier
// turns become chat history.
func (g *GeminiClient) Complete(ctx context.Context, messages []models.ChatMessage) (Completion, error) {
	system, turns := splitSystem(messages)
	if len(turns) == 0 {
		return Completion{}, ErrNoMessages
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	resp, err := g.backend.Send(ctx, system, history, turns[len(turns)-1].Content)
	if err != nil {
		return Completion{}, fmt.Errorf("gemini generate error: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Completion{}, ErrNoChoicesReturned
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return Completion{}, ErrEmptyResponse
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return Completion{Content: sb.String(), TokensUsed: tokens, Model: g.model}, nil
}

// Close releases the underlying connection.
func (g *GeminiClient) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
