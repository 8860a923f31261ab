package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"
)

const providerGoogle = "google"

// accessTokenPrefix marks a pasted OAuth access token rather than an API key.
const accessTokenPrefix = "ya29."

// Google implements Provider using Google Cloud Text-to-Speech.
//
// The credential is resolved on every call. The underlying service client is
// rebuilt only when the resolved key changes.
type Google struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	svc     *texttospeech.Service
	svcKey  string
	adcOnce sync.Once
	adc     oauth2.TokenSource
	adcErr  error
}

// NewGoogle creates a Cloud Text-to-Speech provider.
func NewGoogle(opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Google{
		config: cfg,
		logger: logger.With("component", "tts.google"),
	}, nil
}

// Synthesize converts text to audio with the configured voice.
func (g *Google) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	svc, err := g.service(ctx)
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.languageCode(),
			Name:         g.config.Voice,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   string(g.config.OutputFormat),
			SpeakingRate:    g.config.VoiceSettings.SpeakingRate,
			Pitch:           g.config.VoiceSettings.Pitch,
			VolumeGainDb:    g.config.VoiceSettings.VolumeGainDb,
			SampleRateHertz: int64(g.config.SampleRate),
		},
	}

	start := time.Now()
	resp, err := svc.Text.Synthesize(req).Context(ctx).Do()
	latency := time.Since(start)
	if err != nil {
		g.logger.Debug("synthesis failed", "error", err, "latency_ms", latency.Milliseconds())
		return nil, mapError(err)
	}

	if resp.AudioContent == "" {
		return nil, WrapError(providerGoogle, ErrNoAudio)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(providerGoogle, ErrNoAudio)
	}

	format := AudioFormat{
		Encoding:   g.config.OutputFormat,
		SampleRate: g.config.SampleRate,
		Channels:   1,
	}
	if format.Encoding == EncodingLinear16 {
		format.BitDepth = 16
		if format.SampleRate == 0 {
			format.SampleRate = 24000
		}
	}

	g.logger.Debug("synthesized",
		"chars", len(text),
		"bytes", len(audio),
		"voice", g.config.Voice,
		"latency_ms", latency.Milliseconds(),
	)

	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency.Milliseconds(),
	}, nil
}

// Health lists the voices for the configured language, which checks both
// connectivity and the credential.
func (g *Google) Health(ctx context.Context) error {
	_, err := g.Voices(ctx, g.languageCode())
	return err
}

// Voices lists the remote voices for a language ("" lists all).
func (g *Google) Voices(ctx context.Context, languageCode string) ([]VoiceInfo, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	call := svc.Voices.List()
	if languageCode != "" {
		call = call.LanguageCode(languageCode)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	voices := make([]VoiceInfo, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		voices = append(voices, VoiceInfo{
			Name:       v.Name,
			Languages:  v.LanguageCodes,
			Gender:     v.SsmlGender,
			SampleRate: int(v.NaturalSampleRateHertz),
		})
	}
	return voices, nil
}

// Close drops the cached service client.
func (g *Google) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.svc = nil
	g.svcKey = ""
	return nil
}

// Voice returns the configured voice name.
func (g *Google) Voice() string {
	return g.config.Voice
}

func (g *Google) languageCode() string {
	if lang := LanguageOf(g.config.Voice); lang != "" {
		return lang
	}
	return g.config.LanguageCode
}

// service returns a client authorized with the current credential.
func (g *Google) service(ctx context.Context) (*texttospeech.Service, error) {
	key := g.config.apiKey()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.svc != nil && g.svcKey == key {
		return g.svc, nil
	}

	opts := []option.ClientOption{}
	if g.config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.config.Endpoint))
	}

	switch {
	case strings.HasPrefix(key, accessTokenPrefix):
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: key,
			TokenType:   "Bearer",
		})))
	case key != "":
		opts = append(opts, option.WithAPIKey(key))
	case g.config.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(g.config.TokenSource))
	case g.config.UseADC:
		ts, err := g.defaultTokenSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("application default credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(ts))
	default:
		return nil, ErrNoAPIKey
	}

	// The client outlives this call, so it must not inherit ctx cancellation.
	svc, err := texttospeech.NewService(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	if g.svc != nil {
		g.logger.Info("credential changed, rebuilt client")
	}
	g.svc = svc
	g.svcKey = key
	return svc, nil
}

func (g *Google) defaultTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	g.adcOnce.Do(func() {
		g.adc, g.adcErr = google.DefaultTokenSource(context.WithoutCancel(ctx), texttospeech.CloudPlatformScope)
	})
	return g.adc, g.adcErr
}

// mapError converts a googleapi error into an APIError.
func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		apiErr := &APIError{
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Provider:   providerGoogle,
		}
		if len(gerr.Errors) > 0 {
			apiErr.Code = gerr.Errors[0].Reason
			if apiErr.Message == "" {
				apiErr.Message = gerr.Errors[0].Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(gerr.Body)
		}
		return apiErr
	}
	return WrapError(providerGoogle, err)
}

// Verify Google implements the interfaces at compile time.
var (
	_ Provider    = (*Google)(nil)
	_ VoiceLister = (*Google)(nil)
)
