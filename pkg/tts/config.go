package tts

import (
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/teslashibe/go-talkback/pkg/credential"
)

// Config holds TTS provider configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// APIKey is a static key. Credentials, when it holds a value, wins.
	APIKey string

	// Credentials is consulted on every request so a key stored at runtime
	// is picked up without rebuilding the provider.
	Credentials credential.Getter

	// TokenSource authorizes with OAuth2 instead of an API key.
	TokenSource oauth2.TokenSource

	// UseADC resolves Application Default Credentials when no key is available.
	UseADC bool

	// Endpoint overrides the service base URL (tests, regional endpoints).
	Endpoint string

	// Voice configuration
	LanguageCode  string
	Voice         string
	VoiceSettings VoiceSettings

	// Audio output
	OutputFormat Encoding
	SampleRate   int

	// Timeouts
	Timeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring TTS providers.
type Option func(*Config)

// WithAPIKey sets a static API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithCredentials reads the API key from a credential store on every request.
func WithCredentials(g credential.Getter) Option {
	return func(c *Config) {
		c.Credentials = g
	}
}

// WithTokenSource authorizes requests with an OAuth2 token source.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Config) {
		c.TokenSource = ts
	}
}

// WithADC enables Application Default Credentials as a last resort.
func WithADC(enabled bool) Option {
	return func(c *Config) {
		c.UseADC = enabled
	}
}

// WithEndpoint overrides the service endpoint.
func WithEndpoint(url string) Option {
	return func(c *Config) {
		c.Endpoint = url
	}
}

// WithLanguage sets the BCP-47 language code of the voice.
func WithLanguage(code string) Option {
	return func(c *Config) {
		c.LanguageCode = code
	}
}

// WithVoice sets the voice name or a preset (see ResolveVoice).
func WithVoice(name string) Option {
	return func(c *Config) {
		c.Voice = ResolveVoice(name)
	}
}

// WithOutputFormat sets the audio output encoding.
func WithOutputFormat(format Encoding) Option {
	return func(c *Config) {
		c.OutputFormat = format
	}
}

// WithSampleRate requests a specific output sample rate.
func WithSampleRate(hz int) Option {
	return func(c *Config) {
		c.SampleRate = hz
	}
}

// WithVoiceSettings sets prosody.
func WithVoiceSettings(settings VoiceSettings) Option {
	return func(c *Config) {
		c.VoiceSettings = settings
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns a US English Neural2 female voice at normal speed,
// MP3 output.
func DefaultConfig() *Config {
	return &Config{
		LanguageCode:  "en-US",
		Voice:         DefaultVoice,
		VoiceSettings: DefaultVoiceSettings(),
		OutputFormat:  EncodingMP3,
		Timeout:       20 * time.Second,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the voice settings. Credentials are checked per request.
func (c *Config) Validate() error {
	if c.LanguageCode == "" {
		return ErrNoLanguage
	}
	if !c.OutputFormat.Valid() {
		return ErrUnsupportedEncoding
	}
	if r := c.VoiceSettings.SpeakingRate; r != 0 && (r < 0.25 || r > 4.0) {
		return ErrInvalidSettings
	}
	if p := c.VoiceSettings.Pitch; p < -20 || p > 20 {
		return ErrInvalidSettings
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
