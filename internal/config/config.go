// Package config loads talkback configuration.
//
// Values are layered: built-in defaults, then an optional YAML or TOML file,
// then a .env file, then the process environment. Command-line flags are
// applied by the caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Gemini   GeminiConfig   `yaml:"gemini" toml:"gemini"`
	Fallback FallbackConfig `yaml:"fallback" toml:"fallback"`
	TTS      TTSConfig      `yaml:"tts" toml:"tts"`
	Local    LocalConfig    `yaml:"local" toml:"local"`
	Log      LogConfig      `yaml:"log" toml:"log"`

	// CredentialFile overrides where the API key is stored.
	CredentialFile string `yaml:"credential_file" toml:"credential_file"`
}

// ServerConfig controls the web bridge.
type ServerConfig struct {
	Listen    string `yaml:"listen" toml:"listen"`
	StaticDir string `yaml:"static_dir" toml:"static_dir"`

	// BrowserTimeout bounds each request the server makes of the page.
	BrowserTimeout time.Duration `yaml:"browser_timeout" toml:"browser_timeout"`
}

// SessionConfig controls conversation windows and recognition.
type SessionConfig struct {
	Locale       string `yaml:"locale" toml:"locale"`
	ContextTurns int    `yaml:"context_turns" toml:"context_turns"`
	DisplayTurns int    `yaml:"display_turns" toml:"display_turns"`
	MaxImageSize int64  `yaml:"max_image_size" toml:"max_image_size"`
}

// GeminiConfig controls reply generation.
type GeminiConfig struct {
	BaseURL     string        `yaml:"base_url" toml:"base_url"`
	Model       string        `yaml:"model" toml:"model"`
	Temperature float64       `yaml:"temperature" toml:"temperature"`
	TopP        float64       `yaml:"top_p" toml:"top_p"`
	MaxTokens   int           `yaml:"max_tokens" toml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
}

// FallbackConfig configures an optional OpenAI-compatible provider tried after Gemini.
// Leave BaseURL empty to disable it.
type FallbackConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Model   string `yaml:"model" toml:"model"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
}

// TTSConfig controls remote speech synthesis.
type TTSConfig struct {
	Enabled      bool          `yaml:"enabled" toml:"enabled"`
	Endpoint     string        `yaml:"endpoint" toml:"endpoint"`
	LanguageCode string        `yaml:"language_code" toml:"language_code"`
	Voice        string        `yaml:"voice" toml:"voice"`
	Encoding     string        `yaml:"encoding" toml:"encoding"`
	SpeakingRate float64       `yaml:"speaking_rate" toml:"speaking_rate"`
	Pitch        float64       `yaml:"pitch" toml:"pitch"`
	Timeout      time.Duration `yaml:"timeout" toml:"timeout"`

	// UseADC authenticates with Application Default Credentials instead of the API key.
	UseADC bool `yaml:"use_adc" toml:"use_adc"`
}

// LocalConfig controls host audio playback and the local synthesizer.
type LocalConfig struct {
	Player      string  `yaml:"player" toml:"player"`
	Synthesizer string  `yaml:"synthesizer" toml:"synthesizer"`
	Rate        float64 `yaml:"rate" toml:"rate"`
	Pitch       float64 `yaml:"pitch" toml:"pitch"`
	Volume      float64 `yaml:"volume" toml:"volume"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         "127.0.0.1:8080",
			StaticDir:      "./web",
			BrowserTimeout: 2 * time.Minute,
		},
		Session: SessionConfig{
			Locale:       "en-US",
			ContextTurns: 6,
			DisplayTurns: 2,
			MaxImageSize: 10 * 1024 * 1024,
		},
		Gemini: GeminiConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-1.5-flash",
			Temperature: 0.8,
			TopP:        0.9,
			MaxTokens:   400,
			Timeout:     30 * time.Second,
		},
		TTS: TTSConfig{
			Enabled:      true,
			LanguageCode: "en-US",
			Voice:        "en-US-Neural2-F",
			Encoding:     "MP3",
			SpeakingRate: 1.0,
			Pitch:        0,
			Timeout:      20 * time.Second,
		},
		Local: LocalConfig{
			Rate:   0.95,
			Pitch:  1.1,
			Volume: 1.0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional file at path,
// a .env file in the working directory and the environment.
// An empty path falls back to TALKBACK_CONFIG.
func Load(path string) (*Config, error) {
	// .env never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("TALKBACK_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile merges a YAML or TOML file into the config.
// The format is chosen by extension; unknown extensions are parsed as YAML.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse TOML %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse YAML %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Listen = getEnv("TALKBACK_LISTEN", c.Server.Listen)
	c.Server.StaticDir = getEnv("TALKBACK_STATIC_DIR", c.Server.StaticDir)

	c.Session.Locale = getEnv("TALKBACK_LOCALE", c.Session.Locale)
	c.Session.ContextTurns = getEnvInt("TALKBACK_CONTEXT_TURNS", c.Session.ContextTurns)
	c.Session.DisplayTurns = getEnvInt("TALKBACK_DISPLAY_TURNS", c.Session.DisplayTurns)

	c.Gemini.BaseURL = getEnv("TALKBACK_GEMINI_URL", c.Gemini.BaseURL)
	c.Gemini.Model = getEnv("TALKBACK_GEMINI_MODEL", c.Gemini.Model)
	c.Gemini.Temperature = getEnvFloat("TALKBACK_TEMPERATURE", c.Gemini.Temperature)

	c.Fallback.BaseURL = getEnv("TALKBACK_FALLBACK_URL", c.Fallback.BaseURL)
	c.Fallback.Model = getEnv("TALKBACK_FALLBACK_MODEL", c.Fallback.Model)
	c.Fallback.APIKey = getEnv("TALKBACK_FALLBACK_KEY", c.Fallback.APIKey)

	c.TTS.Enabled = getEnvBool("TALKBACK_TTS_ENABLED", c.TTS.Enabled)
	c.TTS.Endpoint = getEnv("TALKBACK_TTS_ENDPOINT", c.TTS.Endpoint)
	c.TTS.Voice = getEnv("TALKBACK_TTS_VOICE", c.TTS.Voice)
	c.TTS.UseADC = getEnvBool("TALKBACK_TTS_ADC", c.TTS.UseADC)

	c.Local.Player = getEnv("TALKBACK_PLAYER", c.Local.Player)
	c.Local.Synthesizer = getEnv("TALKBACK_SYNTH", c.Local.Synthesizer)

	c.Log.Level = getEnv("TALKBACK_LOG_LEVEL", c.Log.Level)
	c.CredentialFile = getEnv("TALKBACK_CREDENTIAL_FILE", c.CredentialFile)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Session.ContextTurns < 1 {
		return fmt.Errorf("session.context_turns must be >= 1")
	}
	if c.Session.DisplayTurns < 1 {
		return fmt.Errorf("session.display_turns must be >= 1")
	}
	if c.Session.DisplayTurns > c.Session.ContextTurns {
		return fmt.Errorf("session.display_turns (%d) must not exceed session.context_turns (%d)",
			c.Session.DisplayTurns, c.Session.ContextTurns)
	}
	if c.Session.MaxImageSize <= 0 {
		return fmt.Errorf("session.max_image_size must be > 0")
	}
	if strings.TrimSpace(c.Session.Locale) == "" {
		return fmt.Errorf("session.locale cannot be empty")
	}
	if c.Gemini.Model == "" {
		return fmt.Errorf("gemini.model cannot be empty")
	}
	if c.Gemini.Temperature < 0 || c.Gemini.Temperature > 2 {
		return fmt.Errorf("gemini.temperature must be within [0, 2]")
	}
	if c.Gemini.TopP < 0 || c.Gemini.TopP > 1 {
		return fmt.Errorf("gemini.top_p must be within [0, 1]")
	}
	if c.Fallback.BaseURL != "" && c.Fallback.Model == "" {
		return fmt.Errorf("fallback.model is required when fallback.base_url is set")
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen %q: %w", c.Server.Listen, err)
	}
	return nil
}

// DefaultCredentialFile returns the per-user path of the stored API key.
func DefaultCredentialFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "talkback", "credential.json"), nil
}

// CredentialPath returns the configured credential file or the default one.
func (c *Config) CredentialPath() (string, error) {
	if c.CredentialFile != "" {
		return c.CredentialFile, nil
	}
	return DefaultCredentialFile()
}
