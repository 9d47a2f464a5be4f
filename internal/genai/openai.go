package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = string(openai.ChatModelGPT4oMini)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// completionsService adapts the SDK service to chatService.
type completionsService struct {
	svc *openai.ChatCompletionService
}

func (c completionsService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.svc.New(ctx, params)
}

// OpenAIClient talks to OpenAI or any OpenAI-compatible endpoint.
type OpenAIClient struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

// NewOpenAIClient creates a client. A key is required unless WithAllowNoKey is set.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	o := buildOpts(opts)
	if o.APIKey == "" && !o.AllowNoKey {
		return nil, ErrMissingAPIKey
	}

	var reqOpts []option.RequestOption
	if o.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(o.APIKey))
	} else {
		// Local servers ignore the key, but the header must be present.
		reqOpts = append(reqOpts, option.WithAPIKey("local"))
	}
	if o.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.BaseURL))
	}
	// Fail-over happens in the router, not in the SDK.
	reqOpts = append(reqOpts, option.WithMaxRetries(0))

	cli := openai.NewClient(reqOpts...)
	model := o.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	slog.Debug("OpenAIClient: created", "model", model, "base_url", o.BaseURL, "debug", o.DebugMode)
	return &OpenAIClient{
		chat:        completionsService{svc: &cli.Chat.Completions},
		model:       model,
		temperature: o.Temperature,
		maxTokens:   o.MaxTokens,
		debugMode:   o.DebugMode,
		stateDir:    o.StateDir,
	}, nil
}

// Complete sends the conversation and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, messages []models.ChatMessage) (Completion, error) {
	if len(messages) == 0 {
		return Completion{}, ErrNoMessages
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toOpenAIMessages(messages),
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.chat.Create(ctx, params)
	c.debugLog("Complete", params, resp, err)
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Completion{}, ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return Completion{}, ErrEmptyResponse
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Completion{Content: content, TokensUsed: int(resp.Usage.TotalTokens), Model: model}, nil
}

func toOpenAIMessages(messages []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// debugLog writes one JSON file per call under stateDir/debug.
func (c *OpenAIClient) debugLog(method string, params openai.ChatCompletionNewParams, resp *openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("OpenAIClient.debugLog: failed to create debug directory", "error", err, "dir", dir)
		return
	}

	now := time.Now()
	entry := map[string]interface{}{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("OpenAIClient.debugLog: failed to marshal entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("OpenAIClient.debugLog: failed to write entry", "error", err)
	}
}
