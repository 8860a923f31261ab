// Package session orchestrates one practice conversation: it listens for the
// learner, generates a reply, speaks it and offers suggested answers.
//
// Session serialises its own state behind a mutex. Network calls, synthesis
// and notifier callbacks always run outside that lock, and the processing flag
// is the only admission control for turns.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-talkback/pkg/conversation"
	"github.com/teslashibe/go-talkback/pkg/reply"
	"github.com/teslashibe/go-talkback/pkg/speech"
)

// Sentinel errors.
var (
	ErrBusy             = errors.New("session: busy")
	ErrMicDisabled      = errors.New("session: microphone disabled")
	ErrPermissionDenied = errors.New("session: microphone permission denied")
	ErrUnsupported      = errors.New("session: speech recognition unsupported")
	ErrEmptyText        = errors.New("session: empty text")
)

// Capture is the speech input the session drives. *speech.Capture implements it.
type Capture interface {
	RequestPermission(ctx context.Context) bool
	Initialize() bool
	Start() error
	Stop()
	SetEnabled(enabled bool)
	Events() <-chan speech.Event
}

// Generator produces the AI reply for a turn. *reply.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, userText string, recent []conversation.Turn, image *conversation.Image) (*conversation.Reply, error)
}

// Speaker voices text and returns when it is done. *voice.Output implements it.
type Speaker interface {
	Speak(ctx context.Context, text string)
	Stop()
}

// Config holds session configuration.
type Config struct {
	ContextTurns int // turns sent with each generation request
	DisplayTurns int // turns shown in the conversation window
	MaxImageSize int64
	Notifier     Notifier
	Logger       *slog.Logger
}

// Option configures a Session.
type Option func(*Config)

// WithContextTurns sets how many recent turns go into the prompt.
func WithContextTurns(n int) Option {
	return func(c *Config) {
		c.ContextTurns = n
	}
}

// WithDisplayTurns sets how many turns the conversation window shows.
func WithDisplayTurns(n int) Option {
	return func(c *Config) {
		c.DisplayTurns = n
	}
}

// WithMaxImageSize caps image attachments.
func WithMaxImageSize(n int64) Option {
	return func(c *Config) {
		c.MaxImageSize = n
	}
}

// WithNotifier sets the user interface.
func WithNotifier(n Notifier) Option {
	return func(c *Config) {
		c.Notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		ContextTurns: conversation.DefaultContextTurns,
		DisplayTurns: conversation.DefaultDisplayTurns,
		MaxImageSize: conversation.MaxImageSize,
		Notifier:     Nop{},
		Logger:       slog.Default(),
	}
}

// Session is one practice conversation.
type Session struct {
	id       string
	cfg      Config
	capture  Capture
	gen      Generator
	speaker  Speaker
	notifier Notifier
	logger   *slog.Logger
	metrics  *MetricsCollector

	mu                sync.Mutex
	machine           *Machine
	history           *conversation.History
	image             *conversation.Image
	suggestions       []conversation.Suggestion
	processing        bool
	listening         bool
	speaking          bool
	micEnabled        bool
	permissionBlocked bool
	started           bool
	speakGen          uint64
	status            string
	lastError         string
}

// New creates a session. All three collaborators are required.
func New(capture Capture, gen Generator, speaker Speaker, opts ...Option) *Session {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ContextTurns < 1 {
		cfg.ContextTurns = conversation.DefaultContextTurns
	}
	if cfg.DisplayTurns < 1 {
		cfg.DisplayTurns = conversation.DefaultDisplayTurns
	}
	if cfg.Notifier == nil {
		cfg.Notifier = Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		cfg:        cfg,
		capture:    capture,
		gen:        gen,
		speaker:    speaker,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger.With("component", "session", "session_id", id),
		metrics:    NewMetricsCollector(),
		machine:    NewMachine(),
		history:    conversation.NewHistory(),
		micEnabled: true,
		status:     StatusReady,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Metrics returns the per-turn latency collector.
func (s *Session) Metrics() *MetricsCollector {
	return s.metrics
}

// Begin grants the microphone, prepares recognition and, the first time only,
// speaks the welcome line. Calling it again re-requests a blocked microphone.
func (s *Session) Begin(ctx context.Context) error {
	s.setStatus(StatusRequesting)

	if !s.capture.RequestPermission(ctx) {
		s.mu.Lock()
		s.permissionBlocked = true
		s.mu.Unlock()
		s.showError(MsgPermissionRequired)
		s.notifyState()
		return ErrPermissionDenied
	}

	if !s.capture.Initialize() {
		s.showError(MsgUnsupported)
		return ErrUnsupported
	}

	s.mu.Lock()
	s.permissionBlocked = false
	if s.started {
		s.mu.Unlock()
		s.clearError()
		s.setStatus(StatusReady)
		s.notifyState()
		return nil
	}
	s.started = true
	s.history.Append(conversation.AssistantTurn(conversation.WelcomeMessage))
	s.suggestions = conversation.WelcomeSuggestions()
	display := s.displayLocked()
	suggestions := s.suggestionsLocked()
	s.mu.Unlock()

	s.logger.Info("session started")
	s.notifier.Conversation(display)
	s.speak(ctx, conversation.WelcomeMessage, StatusSpeaking)
	s.notifier.Suggestions(suggestions)
	return nil
}

// RequestPermission asks for the microphone again after a denial.
func (s *Session) RequestPermission(ctx context.Context) error {
	s.setStatus(StatusRequesting)
	if !s.capture.RequestPermission(ctx) {
		s.mu.Lock()
		s.permissionBlocked = true
		s.mu.Unlock()
		s.showError(MsgPermissionRequired)
		s.notifyState()
		return ErrPermissionDenied
	}

	s.mu.Lock()
	s.permissionBlocked = false
	s.mu.Unlock()
	s.clearError()
	s.setStatus(StatusReady)
	s.notifyState()
	return nil
}

// StartListening opens the microphone for one utterance.
func (s *Session) StartListening() error {
	s.mu.Lock()
	switch {
	case s.processing || s.machine.State() == StateSpeaking:
		s.mu.Unlock()
		s.setStatus(StatusWait)
		return ErrBusy
	case !s.micEnabled:
		s.mu.Unlock()
		s.setStatus(StatusMicOff)
		return ErrMicDisabled
	case s.permissionBlocked:
		s.mu.Unlock()
		s.showError(MsgPermissionBlocked)
		return ErrPermissionDenied
	case s.machine.State() == StateListening:
		s.mu.Unlock()
		return nil
	}
	if s.machine.State() == StateError {
		_ = s.machine.Transition(StateIdle)
	}
	if err := s.machine.Transition(StateListening); err != nil {
		s.mu.Unlock()
		return err
	}
	s.listening = true
	s.mu.Unlock()

	if err := s.capture.Start(); err != nil {
		s.mu.Lock()
		if s.machine.State() == StateListening {
			_ = s.machine.Transition(StateIdle)
		}
		s.listening = false
		s.mu.Unlock()
		s.notifyState()

		if errors.Is(err, speech.ErrUnsupported) {
			s.showError(MsgUnsupported)
			return ErrUnsupported
		}
		s.logger.Warn("start listening failed", "error", err)
		s.showError(otherErrorMessage(err.Error()))
		return fmt.Errorf("session: start listening: %w", err)
	}

	s.clearError()
	s.notifyState()
	return nil
}

// StopListening closes the microphone. It is safe to call at any time.
func (s *Session) StopListening() {
	s.capture.Stop()

	s.mu.Lock()
	changed := s.machine.State() == StateListening
	if changed {
		_ = s.machine.Transition(StateIdle)
	}
	s.listening = false
	s.mu.Unlock()

	if changed {
		s.notifyState()
	}
}

// ToggleListening is the mic button: it stops an open microphone or opens a
// closed one.
func (s *Session) ToggleListening() error {
	s.mu.Lock()
	listening := s.machine.State() == StateListening
	s.mu.Unlock()

	if listening {
		s.StopListening()
		return nil
	}
	return s.StartListening()
}

// SetMicEnabled turns the microphone on or off. Turning it off stops any
// listening; turning it on never resumes listening.
func (s *Session) SetMicEnabled(enabled bool) {
	s.mu.Lock()
	s.micEnabled = enabled
	wasListening := !enabled && s.machine.State() == StateListening
	if wasListening {
		_ = s.machine.Transition(StateIdle)
		s.listening = false
	}
	s.mu.Unlock()

	s.capture.SetEnabled(enabled)
	if enabled {
		s.setStatus(StatusReady)
	} else {
		s.setStatus(StatusMicDisabled)
	}
	s.notifyState()
}

// ToggleMic flips the microphone switch and returns the new setting.
func (s *Session) ToggleMic() bool {
	s.mu.Lock()
	enabled := !s.micEnabled
	s.mu.Unlock()

	s.SetMicEnabled(enabled)
	return enabled
}

// HandleUserSpeech runs one turn for text. Empty text is ignored and a turn
// that arrives while another is in progress is dropped.
//
// The reply is generated from the most recent turns including this one.
// When generation fails the keyword fallback is spoken instead, so a turn
// always ends with a reply and fresh suggestions.
func (s *Session) HandleUserSpeech(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		s.logger.Debug("turn dropped, already processing", "text", text)
		return nil
	}

	var interrupt bool
	switch s.machine.State() {
	case StateSpeaking:
		// The learner talked over the AI: cut it off.
		s.speakGen++
		s.speaking = false
		interrupt = true
		_ = s.machine.Transition(StateIdle)
	case StateError:
		_ = s.machine.Transition(StateIdle)
	}
	if err := s.machine.Transition(StateAwaitingResponse); err != nil {
		s.mu.Unlock()
		return err
	}

	s.processing = true
	s.listening = false
	s.history.Append(conversation.UserTurn(text))
	recent := s.history.Recent(s.cfg.ContextTurns)
	image := s.image
	display := s.displayLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
		s.notifyState()
	}()

	if interrupt {
		s.speaker.Stop()
	}
	s.capture.Stop()
	s.metrics.MarkStart()

	s.clearError()
	s.setStatus(StatusThinking)
	s.notifyState()
	s.notifier.Conversation(display)

	r, err := s.gen.Generate(ctx, text, recent, image)
	if err == nil && r == nil {
		err = reply.ErrNoProvider
	}
	if err != nil {
		s.logger.Error("reply generation failed", "error", err)
		s.showError(generationErrorMessage(err))
		r = reply.Fallback(text)
	}
	s.metrics.MarkReply(err != nil)

	s.mu.Lock()
	s.history.Append(conversation.AssistantTurn(r.Text))
	display = s.displayLocked()
	s.mu.Unlock()
	s.notifier.Conversation(display)

	s.speak(ctx, r.Text, StatusSpeaking)

	s.mu.Lock()
	s.suggestions = append([]conversation.Suggestion(nil), r.Suggestions...)
	suggestions := s.suggestionsLocked()
	s.mu.Unlock()
	s.notifier.Suggestions(suggestions)

	s.metrics.MarkDone()
	m := s.metrics.Current()
	s.logger.Info("turn complete",
		"fallback", m.Fallback,
		"latency", m.FormatLatency())
	return nil
}

// SpeakSuggestion reads text aloud without starting a turn.
func (s *Session) SpeakSuggestion(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		s.setStatus(StatusWait)
		return ErrBusy
	}
	stopCapture := s.machine.State() == StateListening
	switch s.machine.State() {
	case StateListening:
		_ = s.machine.Transition(StateIdle)
		s.listening = false
	case StateError:
		_ = s.machine.Transition(StateIdle)
	}
	s.mu.Unlock()

	if stopCapture {
		s.capture.Stop()
	}
	s.speak(ctx, text, StatusReadingAloud)
	return nil
}

// AttachImage sets the image sent with every following turn until it is
// removed.
func (s *Session) AttachImage(data []byte, mimeType string) error {
	img, err := conversation.NewImage(data, mimeType, s.cfg.MaxImageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.image = img
	s.mu.Unlock()

	s.logger.Info("image attached", "mime", img.MIMEType, "bytes", img.Size())
	s.setStatus(StatusImageAttached)
	s.notifyState()
	return nil
}

// RemoveImage drops the pending image.
func (s *Session) RemoveImage() {
	s.mu.Lock()
	had := s.image != nil
	s.image = nil
	s.mu.Unlock()

	if had {
		s.notifyState()
	}
}

// Image returns the pending image, or nil.
func (s *Session) Image() *conversation.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// Transcript returns the whole conversation as "Role: text" lines.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Transcript()
}

// History returns every turn.
func (s *Session) History() []conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Turns()
}

// Display returns the turns shown in the conversation window.
func (s *Session) Display() []conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayLocked()
}

// Suggestions returns the current suggested answers.
func (s *Session) Suggestions() []conversation.Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suggestionsLocked()
}

// Snapshot returns the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the orchestrator state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// Reset stops audio and capture and clears the conversation. The next Begin
// speaks the welcome line again.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return ErrBusy
	}
	s.speakGen++
	s.machine.Reset()
	s.history.Reset()
	s.image = nil
	s.suggestions = nil
	s.listening = false
	s.speaking = false
	s.started = false
	s.lastError = ""
	s.mu.Unlock()

	s.speaker.Stop()
	s.capture.Stop()

	s.logger.Info("session reset")
	s.notifier.ClearError()
	s.notifier.Conversation(nil)
	s.notifier.Suggestions(nil)
	s.setStatus(StatusReady)
	s.notifyState()
	return nil
}

// speak voices text and returns when it finishes or is superseded. Only the
// latest utterance moves the machine back to idle.
func (s *Session) speak(ctx context.Context, text, status string) {
	s.mu.Lock()
	if err := s.machine.Transition(StateSpeaking); err != nil {
		s.mu.Unlock()
		s.logger.Warn("cannot speak", "error", err)
		return
	}
	s.speakGen++
	gen := s.speakGen
	s.speaking = true
	s.mu.Unlock()

	s.setStatus(status)
	s.notifyState()

	s.speaker.Speak(ctx, text)

	s.mu.Lock()
	if gen != s.speakGen {
		s.mu.Unlock()
		return
	}
	s.speaking = false
	_ = s.machine.Transition(StateIdle)
	s.mu.Unlock()

	s.setStatus(StatusReady)
	s.notifyState()
}

func (s *Session) setStatus(text string) {
	s.mu.Lock()
	s.status = text
	s.mu.Unlock()
	s.notifier.Status(text)
}

func (s *Session) showError(text string) {
	s.mu.Lock()
	s.lastError = text
	s.mu.Unlock()
	s.notifier.ShowError(text)
}

func (s *Session) clearError() {
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
	s.notifier.ClearError()
}

func (s *Session) notifyState() {
	s.notifier.StateChanged(s.Snapshot())
}

func (s *Session) displayLocked() []conversation.Turn {
	return s.history.Recent(s.cfg.DisplayTurns)
}

func (s *Session) suggestionsLocked() []conversation.Suggestion {
	out := make([]conversation.Suggestion, len(s.suggestions))
	copy(out, s.suggestions)
	return out
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:                s.id,
		State:             s.machine.State(),
		Processing:        s.processing,
		Listening:         s.listening,
		Speaking:          s.speaking,
		MicEnabled:        s.micEnabled,
		PermissionBlocked: s.permissionBlocked,
		Started:           s.started,
		HasImage:          s.image != nil,
		Turns:             s.history.Len(),
		Status:            s.status,
		Error:             s.lastError,
	}
}
