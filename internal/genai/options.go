package genai

// Opts holds configuration shared by the adapters.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	AllowNoKey  bool
	DebugMode   bool
	StateDir    string
}

// Option configures an adapter.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points an OpenAI-compatible client at another endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature. Zero keeps the provider default.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithAllowNoKey accepts an empty API key (local servers such as Ollama).
func WithAllowNoKey(allow bool) Option {
	return func(o *Opts) { o.AllowNoKey = allow }
}

// WithDebugMode dumps every request and response under StateDir/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory used for debug dumps.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

func buildOpts(opts []Option) Opts {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
