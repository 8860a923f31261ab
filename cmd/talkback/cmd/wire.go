package cmd

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-talkback/internal/config"
	"github.com/teslashibe/go-talkback/pkg/credential"
	"github.com/teslashibe/go-talkback/pkg/inference"
	"github.com/teslashibe/go-talkback/pkg/reply"
	"github.com/teslashibe/go-talkback/pkg/tts"
	"github.com/teslashibe/go-talkback/pkg/voice"
)

// openCredentials layers the environment key over the credential file.
// Writes go to the file.
func openCredentials(cfg *config.Config) (*credential.Layered, *credential.FileStore, error) {
	path, err := cfg.CredentialPath()
	if err != nil {
		return nil, nil, fmt.Errorf("credential path: %w", err)
	}
	file := credential.NewFileStore(path)
	return credential.NewLayered(credential.NewMemoryStore(config.APIKeyFromEnv()), file), file, nil
}

// newGenerator builds the reply generator: Gemini first, then the optional
// OpenAI-compatible endpoint.
func newGenerator(cfg *config.Config, creds credential.Getter, logger *slog.Logger) (*reply.Generator, error) {
	gemini, err := inference.NewGemini(
		inference.WithBaseURL(cfg.Gemini.BaseURL),
		inference.WithCredentials(creds),
		inference.WithModel(cfg.Gemini.Model),
		inference.WithTimeout(cfg.Gemini.Timeout),
		inference.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	var provider inference.Provider = gemini
	if cfg.Fallback.BaseURL != "" {
		fallback, err := inference.NewClient(
			inference.WithBaseURL(cfg.Fallback.BaseURL),
			inference.WithAPIKey(cfg.Fallback.APIKey),
			inference.WithModel(cfg.Fallback.Model),
			inference.WithTimeout(cfg.Gemini.Timeout),
			inference.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		chain, err := inference.NewChainWithLogger(logger, gemini, fallback)
		if err != nil {
			return nil, err
		}
		provider = chain
		logger.Info("fallback provider enabled", "url", cfg.Fallback.BaseURL, "model", cfg.Fallback.Model)
	}

	return reply.New(provider,
		reply.WithLogger(logger),
		reply.WithSampling(cfg.Gemini.Temperature, cfg.Gemini.TopP, cfg.Gemini.MaxTokens),
	), nil
}

// newRemoteVoice builds the Cloud Text-to-Speech provider, or nil when it is
// disabled.
func newRemoteVoice(cfg *config.Config, creds credential.Getter, logger *slog.Logger) (tts.Provider, error) {
	if !cfg.TTS.Enabled {
		return nil, nil
	}
	opts := []tts.Option{
		tts.WithCredentials(creds),
		tts.WithADC(cfg.TTS.UseADC),
		tts.WithLanguage(cfg.TTS.LanguageCode),
		tts.WithVoice(cfg.TTS.Voice),
		tts.WithOutputFormat(tts.Encoding(cfg.TTS.Encoding)),
		tts.WithVoiceSettings(tts.VoiceSettings{
			SpeakingRate: cfg.TTS.SpeakingRate,
			Pitch:        cfg.TTS.Pitch,
		}),
		tts.WithTimeout(cfg.TTS.Timeout),
		tts.WithLogger(logger),
	}
	if cfg.TTS.Endpoint != "" {
		opts = append(opts, tts.WithEndpoint(cfg.TTS.Endpoint))
	}
	p, err := tts.NewGoogle(opts...)
	if err != nil {
		return nil, fmt.Errorf("text-to-speech: %w", err)
	}
	return p, nil
}

// localSettings returns the prosody of the local fallback voice.
func localSettings(cfg *config.Config) voice.LocalSettings {
	s := voice.DefaultLocalSettings()
	s.Lang = cfg.Session.Locale
	if cfg.Local.Rate > 0 {
		s.Rate = cfg.Local.Rate
	}
	if cfg.Local.Pitch > 0 {
		s.Pitch = cfg.Local.Pitch
	}
	if cfg.Local.Volume > 0 {
		s.Volume = cfg.Local.Volume
	}
	return s
}
