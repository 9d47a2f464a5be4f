// Package llm routes generation requests across configured providers.
//
// The router tries providers one at a time in a fixed fallback order and
// returns the first successful completion. Providers are never raced.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/genai"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// Error variables for router failures.
var (
	ErrAllProvidersFailed = errors.New("all providers failed")
	ErrNoProviders        = errors.New("no providers available")
)

// Observer receives one event per provider call.
type Observer interface {
	ProviderCall(provider string, success bool, elapsed time.Duration)
}

// Provider is one configured provider with its adapter.
type Provider struct {
	Config  models.ProviderConfig
	Adapter genai.Adapter
	limiter *rate.Limiter
}

// NewProvider pairs a config with its adapter and sets up rate limiting.
func NewProvider(cfg models.ProviderConfig, adapter genai.Adapter) Provider {
	p := Provider{Config: cfg, Adapter: adapter}
	if cfg.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}
	return p
}

// Result is the outcome of a generation request.
type Result struct {
	Success    bool
	Response   string
	Provider   string
	TokensUsed int
	Attempts   int
	Err        error
}

// ProviderStatus describes a provider for the operator API.
type ProviderStatus struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Local     bool   `json:"local"`
	Active    bool   `json:"active"`
	Available bool   `json:"available"`
	Position  int    `json:"position"`
}

// Opts configures the router.
type Opts struct {
	DefaultProvider string
	BusinessName    string
	Timeout         time.Duration
	Observer        Observer
}

// Option configures a Router.
type Option func(*Opts)

// WithDefaultProvider puts the named provider first in the fallback order.
func WithDefaultProvider(id string) Option {
	return func(o *Opts) { o.DefaultProvider = id }
}

// WithBusinessName sets the name used in the apology shown when every provider fails.
func WithBusinessName(name string) Option {
	return func(o *Opts) { o.BusinessName = name }
}

// WithTimeout sets the per-call timeout for providers without their own.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithObserver reports every provider call.
func WithObserver(obs Observer) Option {
	return func(o *Opts) { o.Observer = obs }
}

// Router is safe for concurrent use. The provider list is fixed at construction.
type Router struct {
	providers []Provider
	order     []int
	opts      Opts
}

// NewRouter creates a router over providers, in configuration order.
func NewRouter(providers []Provider, opts ...Option) *Router {
	o := Opts{BusinessName: "nuestro equipo", Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Router{providers: providers, opts: o}
	r.order = fallbackOrder(providers, o.DefaultProvider)

	ids := make([]string, 0, len(r.order))
	for _, i := range r.order {
		ids = append(ids, providers[i].Config.ID)
	}
	slog.Info("Router: fallback order resolved", "order", ids)
	return r
}

// fallbackOrder returns indexes of usable providers: the default first, then
// local ones, then paid ones, each group in configuration order.
func fallbackOrder(providers []Provider, defaultID string) []int {
	usable := func(p Provider) bool {
		return p.Adapter != nil && p.Config.Active && p.Config.Available()
	}
	var order []int
	def := -1
	for i, p := range providers {
		if p.Config.ID == defaultID && usable(p) {
			def = i
			order = append(order, i)
			break
		}
	}
	for _, local := range []bool{true, false} {
		for i, p := range providers {
			if i == def || !usable(p) || p.Config.Local != local {
				continue
			}
			order = append(order, i)
		}
	}
	return order
}

// FallbackOrder returns the provider ids in the order they are tried.
func (r *Router) FallbackOrder() []string {
	ids := make([]string, 0, len(r.order))
	for _, i := range r.order {
		ids = append(ids, r.providers[i].Config.ID)
	}
	return ids
}

// Status lists every configured provider, usable or not.
func (r *Router) Status() []ProviderStatus {
	pos := make(map[int]int, len(r.order))
	for n, i := range r.order {
		pos[i] = n + 1
	}
	out := make([]ProviderStatus, 0, len(r.providers))
	for i, p := range r.providers {
		out = append(out, ProviderStatus{
			ID:        p.Config.ID,
			Model:     p.Config.Model,
			Local:     p.Config.Local,
			Active:    p.Config.Active,
			Available: p.Config.Available() && p.Adapter != nil,
			Position:  pos[i],
		})
	}
	return out
}

// FallbackMessage is the apology returned when no provider answered.
func (r *Router) FallbackMessage() string {
	return fmt.Sprintf("Disculpa, en este momento no puedo darte esa información. En un momento alguien del equipo de %s te responde. 🙏", r.opts.BusinessName)
}

// GenerateResponse tries each provider in fallback order until one succeeds.
func (r *Router) GenerateResponse(ctx context.Context, messages []models.ChatMessage) Result {
	return r.run(ctx, messages, r.order)
}

// GenerateWithPreference tries the preferred providers first, in the given
// order. Unless exclusive is set, the rest of the fallback order follows.
func (r *Router) GenerateWithPreference(ctx context.Context, messages []models.ChatMessage, preferred []string, exclusive bool) Result {
	seen := make(map[int]bool, len(r.order))
	var order []int
	for _, id := range preferred {
		for _, i := range r.order {
			if !seen[i] && r.providers[i].Config.ID == id {
				seen[i] = true
				order = append(order, i)
			}
		}
	}
	if !exclusive {
		for _, i := range r.order {
			if !seen[i] {
				order = append(order, i)
			}
		}
	}
	return r.run(ctx, messages, order)
}

func (r *Router) run(ctx context.Context, messages []models.ChatMessage, order []int) Result {
	if len(order) == 0 {
		slog.Error("Router.GenerateResponse: no providers available")
		return Result{Response: r.FallbackMessage(), Err: ErrNoProviders}
	}

	var errs []error
	for attempt, i := range order {
		p := r.providers[i]
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		out, err := r.call(ctx, p, messages)
		elapsed := time.Since(start)
		if r.opts.Observer != nil {
			r.opts.Observer.ProviderCall(p.Config.ID, err == nil, elapsed)
		}
		if err != nil {
			slog.Warn("Router.GenerateResponse: provider failed", "provider", p.Config.ID, "attempt", attempt+1, "elapsed", elapsed, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Config.ID, err))
			continue
		}

		slog.Debug("Router.GenerateResponse: provider succeeded", "provider", p.Config.ID, "attempt", attempt+1, "tokens", out.TokensUsed, "elapsed", elapsed)
		return Result{
			Success:    true,
			Response:   out.Content,
			Provider:   p.Config.ID,
			TokensUsed: out.TokensUsed,
			Attempts:   attempt + 1,
		}
	}

	slog.Error("Router.GenerateResponse: all providers failed", "attempts", len(errs))
	return Result{
		Response: r.FallbackMessage(),
		Attempts: len(errs),
		Err:      fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...)),
	}
}

func (r *Router) call(ctx context.Context, p Provider, messages []models.ChatMessage) (genai.Completion, error) {
	timeout := p.Config.Timeout
	if timeout <= 0 {
		timeout = r.opts.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(callCtx); err != nil {
			return genai.Completion{}, fmt.Errorf("rate limited: %w", err)
		}
	}
	return p.Adapter.Complete(callCtx, messages)
}

// Close releases adapters that hold connections.
func (r *Router) Close() error {
	var errs []error
	for _, p := range r.providers {
		if c, ok := p.Adapter.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
