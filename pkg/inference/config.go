package inference

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/teslashibe/go-talkback/pkg/credential"
)

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL string // API base URL
	APIKey  string // Static API key (optional for local providers)

	// Credentials is read on every request so a key set at runtime takes
	// effect immediately. It wins over APIKey when it holds a value.
	Credentials credential.Getter

	// TokenSource authorizes requests with OAuth2 bearer tokens instead of a key.
	TokenSource oauth2.TokenSource

	// Model is the default chat model.
	Model string

	// Request defaults
	MaxTokens   int
	Temperature float64
	TopP        float64

	// Timeouts
	Timeout time.Duration

	// Retry configuration
	MaxRetries int
	RetryDelay time.Duration

	// HTTPClient replaces the client built from Timeout.
	HTTPClient *http.Client

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL.
// Examples: "https://generativelanguage.googleapis.com/v1beta", "http://localhost:11434/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets a static API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithCredentials reads the API key from a credential store on every request.
func WithCredentials(g credential.Getter) Option {
	return func(c *Config) { c.Credentials = g }
}

// WithTokenSource authorizes requests with an OAuth2 token source.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Config) { c.TokenSource = ts }
}

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTopP sets the default nucleus sampling value.
func WithTopP(p float64) Option {
	return func(c *Config) { c.TopP = p }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry configures retry behavior.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for the Gemini generateContent API.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
		Model:       "gemini-1.5-flash",
		MaxTokens:   400,
		Temperature: 0.8,
		TopP:        0.9,
		Timeout:     30 * time.Second,
		MaxRetries:  0,
		RetryDelay:  250 * time.Millisecond,
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Model == "" {
		return ErrNoModel
	}
	return nil
}

// apiKey resolves the key for one request.
func (c *Config) apiKey() string {
	if c.Credentials != nil {
		if key, err := c.Credentials.Get(); err == nil && key != "" {
			return key
		}
	}
	return c.APIKey
}
