package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/genai"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var msgs = []models.ChatMessage{models.UserMessage("hola")}

func cfg(id string, local bool) models.ProviderConfig {
	c := models.ProviderConfig{ID: id, Kind: models.ProviderKindOpenAI, Model: "m", Active: true, Local: local}
	if !local {
		c.APIKey = "key"
	}
	return c
}

// callLog records the global order in which adapters are called.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

type loggingAdapter struct {
	id   string
	log  *callLog
	mock *genai.MockClient
}

func (a loggingAdapter) Complete(ctx context.Context, m []models.ChatMessage) (genai.Completion, error) {
	a.log.mu.Lock()
	a.log.calls = append(a.log.calls, a.id)
	a.log.mu.Unlock()
	return a.mock.Complete(ctx, m)
}

func provider(log *callLog, c models.ProviderConfig, fail bool) Provider {
	mock := genai.NewMockClient("respuesta de " + c.ID)
	if fail {
		mock = genai.NewFailingMockClient(errors.New(c.ID + " unavailable"))
	}
	return NewProvider(c, loggingAdapter{id: c.ID, log: log, mock: mock})
}

type recordingObserver struct {
	calls []string
}

func (o *recordingObserver) ProviderCall(p string, ok bool, _ time.Duration) {
	state := "fail"
	if ok {
		state = "ok"
	}
	o.calls = append(o.calls, p+":"+state)
}

func TestFallbackOrder(t *testing.T) {
	inactive := cfg("disabled", true)
	inactive.Active = false
	noKey := cfg("nokey", false)
	noKey.APIKey = ""

	log := &callLog{}
	r := NewRouter([]Provider{
		provider(log, cfg("openai", false), false),
		provider(log, cfg("ollama", true), false),
		provider(log, inactive, false),
		provider(log, cfg("gemini", false), false),
		provider(log, noKey, false),
		provider(log, cfg("lmstudio", true), false),
	}, WithDefaultProvider("gemini"))

	assert.Equal(t, []string{"gemini", "ollama", "lmstudio", "openai"}, r.FallbackOrder())
}

func TestFallbackOrderUnusableDefault(t *testing.T) {
	def := cfg("grok", false)
	def.Active = false
	log := &callLog{}
	r := NewRouter([]Provider{provider(log, def, false), provider(log, cfg("openai", false), false)}, WithDefaultProvider("grok"))
	assert.Equal(t, []string{"openai"}, r.FallbackOrder())
}

func TestGenerateResponse_KFailuresThenSuccess(t *testing.T) {
	for k := 0; k <= 3; k++ {
		log := &callLog{}
		var providers []Provider
		ids := []string{"p0", "p1", "p2", "p3"}
		for i, id := range ids {
			providers = append(providers, provider(log, cfg(id, false), i < k))
		}
		obs := &recordingObserver{}
		r := NewRouter(providers, WithObserver(obs))

		res := r.GenerateResponse(context.Background(), msgs)
		require.True(t, res.Success, "k=%d", k)
		assert.Equal(t, ids[k], res.Provider)
		assert.Equal(t, "respuesta de "+ids[k], res.Response)
		assert.Equal(t, k+1, res.Attempts)
		assert.Equal(t, ids[:k+1], log.calls, "providers are tried strictly in order")
		assert.Len(t, obs.calls, k+1)
		assert.NoError(t, res.Err)
	}
}

func TestGenerateResponse_AllFail(t *testing.T) {
	log := &callLog{}
	r := NewRouter([]Provider{
		provider(log, cfg("openai", false), true),
		provider(log, cfg("ollama", true), true),
		provider(log, cfg("gemini", false), true),
	}, WithBusinessName("Clínica Sonrisa"))

	res := r.GenerateResponse(context.Background(), msgs)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Contains(t, res.Response, "Clínica Sonrisa")
	assert.NotContains(t, res.Response, "unavailable")
	assert.ErrorIs(t, res.Err, ErrAllProvidersFailed)
	assert.Len(t, log.calls, 3)
}

func TestGenerateResponse_NoProviders(t *testing.T) {
	r := NewRouter(nil, WithBusinessName("Acme"))
	res := r.GenerateResponse(context.Background(), msgs)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNoProviders)
	assert.Contains(t, res.Response, "Acme")
}

type slowAdapter struct{}

func (slowAdapter) Complete(ctx context.Context, _ []models.ChatMessage) (genai.Completion, error) {
	<-ctx.Done()
	return genai.Completion{}, ctx.Err()
}

func TestGenerateResponse_TimeoutFallsBack(t *testing.T) {
	slow := cfg("slow", false)
	slow.Timeout = 20 * time.Millisecond
	log := &callLog{}
	r := NewRouter([]Provider{NewProvider(slow, slowAdapter{}), provider(log, cfg("fast", false), false)})

	res := r.GenerateResponse(context.Background(), msgs)
	require.True(t, res.Success)
	assert.Equal(t, "fast", res.Provider)
	assert.Equal(t, 2, res.Attempts)
}

func TestGenerateWithPreference(t *testing.T) {
	log := &callLog{}
	providers := []Provider{
		provider(log, cfg("openai", false), false),
		provider(log, cfg("ollama", true), true),
		provider(log, cfg("grok", false), false),
	}
	r := NewRouter(providers)

	res := r.GenerateWithPreference(context.Background(), msgs, []string{"ollama", "lmstudio", "grok"}, false)
	require.True(t, res.Success)
	assert.Equal(t, "grok", res.Provider)
	assert.Equal(t, []string{"ollama", "grok"}, log.calls)
}

func TestGenerateWithPreference_Exclusive(t *testing.T) {
	log := &callLog{}
	r := NewRouter([]Provider{
		provider(log, cfg("openai", false), false),
		provider(log, cfg("ollama", true), true),
	})

	res := r.GenerateWithPreference(context.Background(), msgs, []string{"ollama", "grok"}, true)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"ollama"}, log.calls, "exclusive preference never reaches other providers")
}

func TestRateLimitedProviderCountsAsFailure(t *testing.T) {
	limited := cfg("limited", false)
	limited.RequestsPerMinute = 1
	limited.Timeout = 20 * time.Millisecond
	log := &callLog{}
	r := NewRouter([]Provider{provider(log, limited, false), provider(log, cfg("backup", false), false)})

	first := r.GenerateResponse(context.Background(), msgs)
	require.True(t, first.Success)
	assert.Equal(t, "limited", first.Provider)

	second := r.GenerateResponse(context.Background(), msgs)
	require.True(t, second.Success)
	assert.Equal(t, "backup", second.Provider)
}

func TestStatus(t *testing.T) {
	off := cfg("off", false)
	off.Active = false
	log := &callLog{}
	r := NewRouter([]Provider{provider(log, off, false), provider(log, cfg("ollama", true), false)})

	st := r.Status()
	require.Len(t, st, 2)
	assert.Equal(t, 0, st[0].Position)
	assert.Equal(t, 1, st[1].Position)
	assert.True(t, st[1].Local)
	assert.True(t, strings.HasPrefix(r.FallbackMessage(), "Disculpa"))
}
