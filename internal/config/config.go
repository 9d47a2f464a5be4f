// Package config loads the business, provider and delivery settings of a
// ReplyPipe deployment from a TOML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/calendar"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration written as "30s" or "5m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Business identifies who the conversation is held for.
type Business struct {
	Name     string `toml:"name"`
	Type     string `toml:"type"`
	Timezone string `toml:"timezone"`
}

// Flow configures the booking flow.
type Flow struct {
	SkipEmail    bool     `toml:"skip_email"`
	AskPhone     bool     `toml:"ask_phone"`
	MaxRetries   int      `toml:"max_retries"`
	SlotDuration Duration `toml:"slot_duration"`
	StartHour    int      `toml:"start_hour"`
	EndHour      int      `toml:"end_hour"`
	SlotStep     Duration `toml:"slot_step"`
	SessionTTL   Duration `toml:"session_ttl"`
	CalendarID   string   `toml:"calendar_id"`
}

// LLM configures the provider router.
type LLM struct {
	DefaultProvider string   `toml:"default_provider"`
	Timeout         Duration `toml:"timeout"`
	DebugDir        string   `toml:"debug_dir"`
}

// Provider is one [[providers]] entry.
type Provider struct {
	ID                string              `toml:"id"`
	Kind              models.ProviderKind `toml:"kind"`
	Model             string              `toml:"model"`
	BaseURL           string              `toml:"base_url"`
	APIKeyEnv         string              `toml:"api_key_env"`
	Active            *bool               `toml:"active"`
	Local             bool                `toml:"local"`
	Temperature       float64             `toml:"temperature"`
	MaxTokens         int                 `toml:"max_tokens"`
	Timeout           Duration            `toml:"timeout"`
	RequestsPerMinute int                 `toml:"requests_per_minute"`
}

// Humanizer configures failure handling.
type Humanizer struct {
	SensitiveBusinessTypes []string `toml:"sensitive_business_types"`
	UncensoredProviders    []string `toml:"uncensored_providers"`
	MinRetryDelay          Duration `toml:"min_retry_delay"`
	MaxRetryDelay          Duration `toml:"max_retry_delay"`
}

// Transfer configures hand-offs and operator notification.
type Transfer struct {
	HighValueThreshold       float64  `toml:"high_value_threshold"`
	NegativeEmotionThreshold float64  `toml:"negative_emotion_threshold"`
	OperatorPhone            string   `toml:"operator_phone"`
	OperatorEmail            []string `toml:"operator_email"`
	NotifyTimeout            Duration `toml:"notify_timeout"`
}

// Delivery configures the channel router.
type Delivery struct {
	StickyCapacity int      `toml:"sticky_capacity"`
	StickyTTL      Duration `toml:"sticky_ttl"`
	SendTimeout    Duration `toml:"send_timeout"`
	// Primary is "whatsmeow" or "twilio".
	Primary string `toml:"primary"`
}

// Pipeline configures reply generation.
type Pipeline struct {
	SystemPrompt string   `toml:"system_prompt"`
	HumanAck     string   `toml:"human_ack"`
	HistoryLimit int      `toml:"history_limit"`
	HistoryTTL   Duration `toml:"history_ttl"`
}

// Config is the whole file.
type Config struct {
	Business  Business   `toml:"business"`
	Flow      Flow       `toml:"flow"`
	LLM       LLM        `toml:"llm"`
	Providers []Provider `toml:"providers"`
	Humanizer Humanizer  `toml:"humanizer"`
	Transfer  Transfer   `toml:"transfer"`
	Delivery  Delivery   `toml:"delivery"`
	Pipeline  Pipeline   `toml:"pipeline"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Business: Business{Name: "ReplyPipe", Timezone: "Local"},
		Flow: Flow{
			MaxRetries:   3,
			SlotDuration: Duration{time.Hour},
			StartHour:    9,
			EndHour:      17,
			SlotStep:     Duration{30 * time.Minute},
			SessionTTL:   Duration{time.Hour},
			CalendarID:   "primary",
		},
		LLM:       LLM{Timeout: Duration{30 * time.Second}},
		Providers: DefaultProviders(),
		Humanizer: Humanizer{
			UncensoredProviders: []string{"ollama", "lmstudio", "grok"},
			MinRetryDelay:       Duration{3 * time.Second},
			MaxRetryDelay:       Duration{6 * time.Second},
		},
		Transfer: Transfer{
			HighValueThreshold:       1000,
			NegativeEmotionThreshold: -0.5,
			NotifyTimeout:            Duration{10 * time.Second},
		},
		Delivery: Delivery{
			StickyCapacity: 1000,
			StickyTTL:      Duration{time.Hour},
			SendTimeout:    Duration{15 * time.Second},
			Primary:        string(models.ChannelWhatsmeow),
		},
		Pipeline: Pipeline{HistoryLimit: 20, HistoryTTL: Duration{24 * time.Hour}},
	}
}

// DefaultProviders lists the providers enabled when the file names none.
// Remote ones only become available once their key variable is set.
func DefaultProviders() []Provider {
	return []Provider{
		{ID: "openai", Kind: models.ProviderKindOpenAI, Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY"},
		{ID: "gemini", Kind: models.ProviderKindGemini, Model: "gemini-1.5-flash", APIKeyEnv: "GEMINI_API_KEY"},
		{ID: "ollama", Kind: models.ProviderKindOpenAI, Model: "llama3.1", BaseURL: "http://localhost:11434/v1", Local: true},
		{ID: "lmstudio", Kind: models.ProviderKindOpenAI, Model: "local-model", BaseURL: "http://localhost:1234/v1", Local: true},
		{ID: "grok", Kind: models.ProviderKindOpenAI, Model: "grok-2-latest", BaseURL: "https://api.x.ai/v1", APIKeyEnv: "XAI_API_KEY"},
		{ID: "openrouter", Kind: models.ProviderKindOpenAI, Model: "openai/gpt-4o-mini", BaseURL: "https://openrouter.ai/api/v1", APIKeyEnv: "OPENROUTER_API_KEY"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		// Providers in the file replace the default list.
		cfg.Providers = nil
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		for _, key := range md.Undecoded() {
			slog.Warn("config.Load: unknown key ignored", "key", key.String(), "path", path)
		}
		if len(cfg.Providers) == 0 {
			cfg.Providers = DefaultProviders()
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the rest of the process relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Business.Name) == "" {
		return fmt.Errorf("%w: business.name is required", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: business.timezone: %w", ErrInvalidConfig, err)
	}
	if c.Flow.StartHour < 0 || c.Flow.EndHour > 24 || c.Flow.StartHour >= c.Flow.EndHour {
		return fmt.Errorf("%w: flow working hours %d-%d", ErrInvalidConfig, c.Flow.StartHour, c.Flow.EndHour)
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("%w: providers[%d] has no id", ErrInvalidConfig, i)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate provider %q", ErrInvalidConfig, p.ID)
		}
		seen[p.ID] = true
		switch p.Kind {
		case models.ProviderKindOpenAI, models.ProviderKindGemini, "":
		default:
			return fmt.Errorf("%w: provider %q has unknown kind %q", ErrInvalidConfig, p.ID, p.Kind)
		}
	}
	if d := c.LLM.DefaultProvider; d != "" && !seen[d] {
		return fmt.Errorf("%w: default provider %q is not configured", ErrInvalidConfig, d)
	}
	switch c.Delivery.Primary {
	case string(models.ChannelWhatsmeow), string(models.ChannelTwilio):
	default:
		return fmt.Errorf("%w: delivery.primary must be %q or %q", ErrInvalidConfig, models.ChannelWhatsmeow, models.ChannelTwilio)
	}
	return nil
}

// Location resolves business.timezone.
func (c Config) Location() (*time.Location, error) {
	switch c.Business.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Business.Timezone)
	}
}

// WorkingHours builds the fallback slot window.
func (c Config) WorkingHours() calendar.WorkingHours {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	step := c.Flow.SlotStep.Duration
	if step <= 0 {
		step = 30 * time.Minute
	}
	return calendar.WorkingHours{StartHour: c.Flow.StartHour, EndHour: c.Flow.EndHour, Step: step, Location: loc}
}

// ProviderConfigs resolves every provider's key from the environment.
func (c Config) ProviderConfigs() []models.ProviderConfig {
	out := make([]models.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		kind := p.Kind
		if kind == "" {
			kind = models.ProviderKindOpenAI
		}
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		timeout := p.Timeout.Duration
		if timeout <= 0 {
			timeout = c.LLM.Timeout.Duration
		}
		pc := models.ProviderConfig{
			ID:                p.ID,
			Kind:              kind,
			Model:             p.Model,
			BaseURL:           p.BaseURL,
			APIKeyEnv:         p.APIKeyEnv,
			Active:            active,
			Local:             p.Local,
			Temperature:       p.Temperature,
			MaxTokens:         p.MaxTokens,
			Timeout:           timeout,
			RequestsPerMinute: p.RequestsPerMinute,
		}
		if p.APIKeyEnv != "" {
			pc.APIKey = strings.TrimSpace(os.Getenv(p.APIKeyEnv))
		}
		out = append(out, pc)
	}
	return out
}
