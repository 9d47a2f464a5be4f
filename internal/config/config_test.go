package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replypipe.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ReplyPipe", cfg.Business.Name)
	assert.Equal(t, time.Hour, cfg.Delivery.StickyTTL.Duration)
	assert.Equal(t, 1000, cfg.Delivery.StickyCapacity)
	assert.Equal(t, 3, cfg.Flow.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.HistoryTTL.Duration)
	assert.Len(t, cfg.Providers, len(DefaultProviders()))
}

func TestLoadFile(t *testing.T) {
	t.Setenv("REPLYPIPE_TEST_KEY", " sk-test ")
	path := writeConfig(t, `
[business]
name = "Clínica Sonrisa"
type = "dental"
timezone = "America/Mexico_City"

[flow]
skip_email = true
slot_duration = "45m"
start_hour = 10
end_hour = 18

[llm]
default_provider = "ollama"
timeout = "20s"

[[providers]]
id = "openai"
kind = "openai"
model = "gpt-4o-mini"
api_key_env = "REPLYPIPE_TEST_KEY"
requests_per_minute = 60

[[providers]]
id = "ollama"
model = "llama3.1"
base_url = "http://localhost:11434/v1"
local = true
timeout = "5s"

[[providers]]
id = "gemini"
kind = "gemini"
model = "gemini-1.5-flash"
active = false

[delivery]
sticky_ttl = "30m"
primary = "twilio"

[transfer]
operator_phone = "+5215500000000"
operator_email = ["recepcion@example.com"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Clínica Sonrisa", cfg.Business.Name)
	assert.True(t, cfg.Flow.SkipEmail)
	assert.Equal(t, 45*time.Minute, cfg.Flow.SlotDuration.Duration)
	assert.Equal(t, 3, cfg.Flow.MaxRetries, "unset keys keep defaults")
	assert.Equal(t, 30*time.Minute, cfg.Delivery.StickyTTL.Duration)
	assert.Equal(t, 1000, cfg.Delivery.StickyCapacity)
	assert.Equal(t, "twilio", cfg.Delivery.Primary)
	assert.Equal(t, []string{"recepcion@example.com"}, cfg.Transfer.OperatorEmail)

	wh := cfg.WorkingHours()
	assert.Equal(t, 10, wh.StartHour)
	assert.Equal(t, 18, wh.EndHour)
	assert.Equal(t, "America/Mexico_City", wh.Location.String())

	pcs := cfg.ProviderConfigs()
	require.Len(t, pcs, 3)
	assert.Equal(t, "sk-test", pcs[0].APIKey)
	assert.Equal(t, 20*time.Second, pcs[0].Timeout, "falls back to llm.timeout")
	assert.Equal(t, 60, pcs[0].RequestsPerMinute)
	assert.True(t, pcs[0].Active)
	assert.Equal(t, models.ProviderKindOpenAI, pcs[1].Kind, "kind defaults to openai")
	assert.Equal(t, 5*time.Second, pcs[1].Timeout)
	assert.True(t, pcs[1].Available())
	assert.False(t, pcs[2].Active)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad timezone", "[business]\nname = \"x\"\ntimezone = \"Mars/Olympus\"\n"},
		{"inverted hours", "[flow]\nstart_hour = 18\nend_hour = 9\n"},
		{"unknown default provider", "[llm]\ndefault_provider = \"nope\"\n"},
		{"duplicate provider", "[[providers]]\nid = \"a\"\n[[providers]]\nid = \"a\"\n"},
		{"unknown kind", "[[providers]]\nid = \"a\"\nkind = \"palm\"\n"},
		{"bad primary", "[delivery]\nprimary = \"sms\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "[delivery]\nsticky_ttl = \"forever\"\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestProviderKeyMissing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := Default()
	pcs := cfg.ProviderConfigs()
	require.Equal(t, "openai", pcs[0].ID)
	assert.False(t, pcs[0].Available(), "remote provider without key is unavailable")
}
