// Package speech captures the learner's speech through a platform recognizer
// and reports it as a stream of Events.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config holds Capture configuration.
type Config struct {
	Settings   Settings
	RetryDelay time.Duration
	BufferSize int
	Logger     *slog.Logger
}

// Option is a functional option for configuring Capture.
type Option func(*Config)

// WithLocale sets the recognition locale.
func WithLocale(locale string) Option {
	return func(c *Config) {
		c.Settings.Locale = locale
	}
}

// WithRetryDelay sets the wait before retrying a start that hit ErrInvalidState.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryDelay = d
	}
}

// WithBufferSize sets the event channel capacity.
func WithBufferSize(n int) Option {
	return func(c *Config) {
		c.BufferSize = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// DefaultConfig returns en-US settings, a 100ms retry delay and a 64 event buffer.
func DefaultConfig() Config {
	return Config{
		Settings:   DefaultSettings("en-US"),
		RetryDelay: 100 * time.Millisecond,
		BufferSize: 64,
		Logger:     slog.Default(),
	}
}

// Capture wraps one recognizer obtained from a Platform.
type Capture struct {
	platform Platform
	cfg      Config
	logger   *slog.Logger
	events   chan Event

	mu          sync.Mutex
	rec         Recognizer
	gen         uint64
	listening   bool
	enabled     bool
	granted     bool
	unsupported bool
	errored     bool
	closed      bool
}

// New creates a Capture on platform. The mic starts enabled.
func New(platform Platform, opts ...Option) *Capture {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Settings.Locale == "" {
		cfg.Settings.Locale = "en-US"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Capture{
		platform: platform,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "speech.capture"),
		events:   make(chan Event, cfg.BufferSize),
		enabled:  true,
	}
}

// Events returns the event stream. It is closed by Close.
func (c *Capture) Events() <-chan Event {
	return c.events
}

// Settings returns the recognizer settings.
func (c *Capture) Settings() Settings {
	return c.cfg.Settings
}

// RequestPermission asks for microphone access. A grant is remembered;
// a denial is not, so the user can grant later.
func (c *Capture) RequestPermission(ctx context.Context) bool {
	c.mu.Lock()
	granted := c.granted
	c.mu.Unlock()
	if granted {
		return true
	}

	ok, err := c.platform.RequestPermission(ctx)
	if err != nil {
		c.logger.Warn("permission request failed", "error", err)
		return false
	}
	if ok {
		c.mu.Lock()
		c.granted = true
		c.mu.Unlock()
	}
	c.logger.Debug("permission", "granted", ok)
	return ok
}

// RevokePermission forgets an earlier grant, as after a not-allowed error.
func (c *Capture) RevokePermission() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.granted = false
}

// Initialize builds the recognizer, aborting any previous one.
// It returns false when the platform cannot recognize speech.
func (c *Capture) Initialize() bool {
	c.mu.Lock()
	ok, old := c.initLocked()
	c.mu.Unlock()

	if old != nil {
		old.Abort()
	}
	return ok
}

// Supported reports whether recognition is available.
func (c *Capture) Supported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsupported {
		return false
	}
	return c.platform.Supported()
}

// Start begins listening. It is a no-op when already listening or when the
// mic is disabled.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.listening || !c.enabled {
		c.mu.Unlock()
		return nil
	}
	var old Recognizer
	if c.rec == nil {
		var ok bool
		if ok, old = c.initLocked(); !ok {
			c.mu.Unlock()
			return ErrUnsupported
		}
	}
	rec := c.rec
	c.errored = false
	c.listening = true
	c.mu.Unlock()

	if old != nil {
		old.Abort()
	}

	err := rec.Start()
	if errors.Is(err, ErrInvalidState) {
		c.logger.Debug("recognizer busy, rebuilding", "retry_in", c.cfg.RetryDelay)
		time.Sleep(c.cfg.RetryDelay)

		c.mu.Lock()
		ok, old := c.initLocked()
		rec = c.rec
		c.listening = ok
		c.mu.Unlock()

		if old != nil {
			old.Abort()
		}
		if !ok {
			return ErrUnsupported
		}
		err = rec.Start()
	}
	if err != nil {
		c.mu.Lock()
		if c.rec == rec {
			c.listening = false
		}
		c.mu.Unlock()
		return fmt.Errorf("speech: start: %w", err)
	}
	return nil
}

// Stop ends listening. Safe when not listening.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.listening || c.rec == nil {
		c.mu.Unlock()
		return
	}
	c.listening = false
	rec := c.rec
	c.mu.Unlock()

	rec.Stop()
}

// Listening reports whether a recognition session is active.
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// SetEnabled turns the mic capability on or off. Disabling stops listening.
func (c *Capture) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()

	if !enabled {
		c.Stop()
	}
}

// Enabled reports whether the mic capability is on.
func (c *Capture) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Close aborts the recognizer and closes the event stream.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rec := c.rec
	c.rec = nil
	c.gen++
	c.listening = false
	close(c.events)
	c.mu.Unlock()

	if rec != nil {
		rec.Abort()
	}
	return nil
}

// initLocked replaces the recognizer. The old one, if any, is returned so
// the caller can abort it after releasing the lock.
func (c *Capture) initLocked() (bool, Recognizer) {
	if c.unsupported || c.closed {
		return false, nil
	}
	if !c.platform.Supported() {
		c.unsupported = true
		c.logger.Warn("speech recognition not supported on this platform")
		return false, nil
	}

	old := c.rec
	c.rec = nil
	c.gen++
	gen := c.gen
	c.listening = false

	rec, err := c.platform.NewRecognizer(c.cfg.Settings, func(s Signal) { c.handle(gen, s) })
	if err != nil {
		c.logger.Error("create recognizer", "error", err)
		return false, old
	}
	c.rec = rec
	return true, old
}

// handle turns a recognizer signal into events. Signals from replaced
// recognizers are dropped.
func (c *Capture) handle(gen uint64, s Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}

	switch s.Kind {
	case SignalStart:
		c.listening = true
		c.emitLocked(Event{Kind: EventState, State: StateListening})

	case SignalResult:
		kind := EventInterim
		if s.Final {
			kind = EventFinal
		}
		c.emitLocked(Event{Kind: kind, Text: s.Text})

	case SignalError:
		kind := MapError(s.Code)
		c.listening = false
		c.errored = true
		if kind == KindPermissionDenied {
			c.granted = false
		}
		c.logger.Debug("recognition error", "code", s.Code, "kind", kind)
		c.emitLocked(Event{Kind: EventError, Error: kind, Code: s.Code})
		c.emitLocked(Event{Kind: EventState, State: StateError})
		c.emitLocked(Event{Kind: EventState, State: StateStopped})

	case SignalEnd:
		c.listening = false
		if c.errored {
			// stopped was already reported with the error
			c.errored = false
			return
		}
		c.emitLocked(Event{Kind: EventState, State: StateStopped})
	}
}

func (c *Capture) emitLocked(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn("event buffer full, dropping event", "kind", e.Kind)
	}
}
