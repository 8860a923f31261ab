// Package voice speaks the partner's lines.
//
// Output prefers the remote voice (tts.Provider, decoded with audio.Decode and
// played by an audio.Player) and falls back to a local Synthesizer whenever
// the remote path is unavailable or fails. Speak never returns an error.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-talkback/pkg/audio"
	"github.com/teslashibe/go-talkback/pkg/credential"
	"github.com/teslashibe/go-talkback/pkg/tts"
)

// Path names which path produced the last utterance.
type Path string

const (
	PathNone   Path = ""
	PathRemote Path = "remote"
	PathLocal  Path = "local"
)

// Config holds Output configuration.
type Config struct {
	Remote      tts.Provider
	Credentials credential.Getter
	Player      audio.Player
	Local       Synthesizer
	Settings    LocalSettings

	// PCM describes raw remote audio when its MIME type leaves fields out.
	PCM audio.PCMFormat

	Logger *slog.Logger
}

// Option is a functional option for configuring Output.
type Option func(*Config)

// WithRemote sets the remote TTS provider.
func WithRemote(p tts.Provider) Option {
	return func(c *Config) {
		c.Remote = p
	}
}

// WithCredentials sets the store whose key gates the remote path.
// Without one the remote path is tried whenever Remote and Player are set.
func WithCredentials(g credential.Getter) Option {
	return func(c *Config) {
		c.Credentials = g
	}
}

// WithPlayer sets the audio player for remote audio.
func WithPlayer(p audio.Player) Option {
	return func(c *Config) {
		c.Player = p
	}
}

// WithLocal sets the local synthesizer.
func WithLocal(s Synthesizer) Option {
	return func(c *Config) {
		c.Local = s
	}
}

// WithLocalSettings overrides the local prosody.
func WithLocalSettings(s LocalSettings) Option {
	return func(c *Config) {
		c.Settings = s
	}
}

// WithPCM sets the format assumed for raw PCM.
func WithPCM(f audio.PCMFormat) Option {
	return func(c *Config) {
		c.PCM = f
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Output speaks text, one utterance at a time.
type Output struct {
	cfg    Config
	logger *slog.Logger

	voiceMu    sync.Mutex
	voice      Voice
	voiceKnown bool

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	speaking bool
	lastPath Path
	fallback int
}

// New creates an Output.
func New(opts ...Option) *Output {
	cfg := Config{
		Settings: DefaultLocalSettings(),
		PCM:      audio.DefaultPCM,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Output{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "voice.output"),
	}
}

// Speak says text and returns when it has finished, been interrupted by a
// newer Speak or Stop, or ctx is done. Failures are logged, never returned.
func (o *Output) Speak(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	ctx, gen := o.begin(ctx)
	defer o.end(gen)

	start := time.Now()
	if o.remoteReady() {
		err := o.speakRemote(ctx, text)
		if err == nil {
			o.setPath(gen, PathRemote)
			o.logger.Debug("spoke", "path", PathRemote, "chars", len(text), "ms", time.Since(start).Milliseconds())
			return
		}
		if o.superseded(gen) || ctx.Err() != nil {
			return
		}
		o.logger.Warn("remote voice failed, using local voice", "error", err)
		o.mu.Lock()
		o.fallback++
		o.mu.Unlock()
	}

	o.speakLocal(ctx, gen, text)
}

// Stop interrupts whatever is being said.
func (o *Output) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.gen++
	o.cancel = nil
	o.speaking = false
	o.mu.Unlock()

	o.halt(cancel)
}

// Speaking reports whether an utterance is in progress.
func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// LastPath reports which path produced the most recent completed utterance.
func (o *Output) LastPath() Path {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastPath
}

// Fallbacks returns how many times the remote voice failed over to the local one.
func (o *Output) Fallbacks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fallback
}

// LocalVoice returns the local voice chosen by SelectVoice.
// A successful lookup is cached; a failed one is retried on the next call.
func (o *Output) LocalVoice(ctx context.Context) Voice {
	o.voiceMu.Lock()
	defer o.voiceMu.Unlock()
	if o.voiceKnown || o.cfg.Local == nil {
		return o.voice
	}
	voices, err := o.cfg.Local.Voices(ctx)
	if err != nil {
		o.logger.Debug("list local voices", "error", err)
		return Voice{}
	}
	o.voice = SelectVoice(voices)
	o.voiceKnown = true
	o.logger.Debug("local voice selected", "name", o.voice.Name, "lang", o.voice.Lang)
	return o.voice
}

// begin preempts the current utterance and registers a new one.
func (o *Output) begin(ctx context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	prev := o.cancel
	o.gen++
	gen := o.gen
	o.cancel = cancel
	o.speaking = true
	o.mu.Unlock()

	if prev != nil {
		o.halt(prev)
	}
	return ctx, gen
}

func (o *Output) end(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.cancel = nil
	o.speaking = false
}

// halt releases the audio handle of a previous utterance.
func (o *Output) halt(cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if o.cfg.Player != nil {
		o.cfg.Player.Stop()
	}
	if o.cfg.Local != nil {
		o.cfg.Local.Cancel()
	}
}

func (o *Output) superseded(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen != gen
}

func (o *Output) setPath(gen uint64, p Path) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen == gen {
		o.lastPath = p
	}
}

func (o *Output) remoteReady() bool {
	if o.cfg.Remote == nil || o.cfg.Player == nil {
		return false
	}
	if o.cfg.Credentials == nil {
		return true
	}
	key, err := o.cfg.Credentials.Get()
	return err == nil && strings.TrimSpace(key) != ""
}

func (o *Output) speakRemote(ctx context.Context, text string) error {
	result, err := o.cfg.Remote.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if result == nil || len(result.Audio) == 0 {
		return tts.ErrNoAudio
	}

	clip, err := audio.Decode(result.Audio, result.Format.MIMEType(), result.Format.Encoding.Raw(), o.pcmFor(result.Format))
	if err != nil {
		return err
	}
	return o.cfg.Player.Play(ctx, clip)
}

func (o *Output) pcmFor(f tts.AudioFormat) audio.PCMFormat {
	pcm := o.cfg.PCM
	if f.SampleRate > 0 {
		pcm.SampleRate = f.SampleRate
	}
	if f.Channels > 0 {
		pcm.Channels = f.Channels
	}
	if f.BitDepth > 0 {
		pcm.BitsPerSample = f.BitDepth
	}
	return pcm
}

func (o *Output) speakLocal(ctx context.Context, gen uint64, text string) {
	if o.cfg.Local == nil {
		o.logger.Warn("no voice available, line not spoken", "chars", len(text))
		return
	}

	s := o.cfg.Settings
	u := Utterance{
		Text:   text,
		Lang:   s.Lang,
		Rate:   s.Rate,
		Pitch:  s.Pitch,
		Volume: s.Volume,
		Voice:  o.LocalVoice(ctx).Name,
	}

	err := o.cfg.Local.Say(ctx, u)
	switch {
	case err == nil:
		o.setPath(gen, PathLocal)
	case errors.Is(err, ErrCancelled), ctx.Err() != nil:
	default:
		o.logger.Error("local voice failed", "error", err)
	}
}
