package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-talkback/pkg/audio"
	"github.com/teslashibe/go-talkback/pkg/conversation"
	"github.com/teslashibe/go-talkback/pkg/hub"
	"github.com/teslashibe/go-talkback/pkg/session"
	"github.com/teslashibe/go-talkback/pkg/speech"
	"github.com/teslashibe/go-talkback/pkg/voice"
)

// Bridge errors.
var (
	// ErrNoBrowser is returned when a round trip needs a browser and none is
	// connected, or the last one leaves before answering.
	ErrNoBrowser = errors.New("web: no browser connected")

	// ErrBrowserTimeout is returned when the browser does not answer a round
	// trip in time.
	ErrBrowserTimeout = errors.New("web: browser did not answer")
)

// DefaultRoundTripTimeout bounds each browser round trip.
const DefaultRoundTripTimeout = 2 * time.Minute

// Message types on /ws/session.
const (
	// server -> browser
	TypeState           = "state"
	TypeStatus          = "status"
	TypeError           = "error"
	TypeErrorClear      = "error.clear"
	TypeConversation    = "conversation"
	TypeInterim         = "interim"
	TypeSuggestions     = "suggestions"
	TypeRecognizerInit  = "recognizer.init"
	TypeRecognizerStop  = "recognizer.stop"
	TypeRecognizerAbort = "recognizer.abort"
	TypePermissionReq   = "permission.request"
	TypeAudioPlay       = "audio.play"
	TypeAudioStop       = "audio.stop"
	TypeSpeechSay       = "speech.say"
	TypeSpeechCancel    = "speech.cancel"
	TypeVoicesRequest   = "voices.request"

	// browser -> server
	TypeRecognizerResult    = "recognizer.result"
	TypeRecognizerError     = "recognizer.error"
	TypeRecognizerEnd       = "recognizer.end"
	TypeRecognizerSupported = "recognizer.supported"
	TypePermissionResult    = "permission.result"
	TypeAudioEnded          = "audio.ended"
	TypeSpeechEnded         = "speech.ended"
	TypeVoicesResult        = "voices.result"

	// both directions: the server asks, the browser confirms
	TypeRecognizerStart = "recognizer.start"
)

// Envelope is one JSON frame on /ws/session. Only the fields a type uses are
// set.
type Envelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Code    string `json:"code,omitempty"`
	Granted bool   `json:"granted,omitempty"`
	Error   string `json:"error,omitempty"`

	// recognizer.supported
	Supported *bool `json:"supported,omitempty"`

	// recognizer.init
	*speech.Settings

	// audio.play
	MIME string `json:"mime,omitempty"`
	Data string `json:"data,omitempty"`

	// speech.say
	Lang   string  `json:"lang,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
	Pitch  float64 `json:"pitch,omitempty"`
	Volume float64 `json:"volume,omitempty"`
	Voice  string  `json:"voice,omitempty"`

	// voices.result
	Voices []voice.Voice `json:"voices,omitempty"`

	// notifier pushes
	State       *session.Snapshot         `json:"state,omitempty"`
	Turns       []conversation.Turn       `json:"turns,omitempty"`
	Suggestions []conversation.Suggestion `json:"suggestions,omitempty"`
}

// Bridge turns the browser on the other end of /ws/session into the
// session's microphone, speaker, local voice and screen. It implements
// speech.Platform, audio.Player, voice.Synthesizer and session.Notifier.
//
// Round trips are correlated by uuid request ids. Each is bounded by the
// caller's context and the bridge timeout, and fails with ErrNoBrowser when
// the last browser disconnects.
type Bridge struct {
	hub    *hub.Hub
	logger *slog.Logger

	mu        sync.Mutex
	pending   map[string]chan Envelope
	timeout   time.Duration
	supported bool
	rec       *recognizer

	playMu   sync.Mutex
	playing  string
	stopPlay context.CancelFunc

	sayMu   sync.Mutex
	saying  string
	stopSay context.CancelFunc
}

// NewBridge creates a bridge over h and installs itself as h's inbound
// and disconnect handler.
func NewBridge(h *hub.Hub, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		hub:       h,
		logger:    logger.With("component", "web.bridge"),
		pending:   make(map[string]chan Envelope),
		timeout:   DefaultRoundTripTimeout,
		supported: true,
	}
	h.OnMessage(b.handle)
	h.OnDisconnect(b.disconnected)
	return b
}

// SetTimeout changes the round trip bound. Zero or less disables it.
func (b *Bridge) SetTimeout(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
}

// Connected reports whether a browser is attached.
func (b *Bridge) Connected() bool {
	return b.hub.ClientCount() > 0
}

// handle routes one inbound frame.
func (b *Bridge) handle(c *hub.Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.logger.Warn("bad frame", "client", c.ID(), "error", err)
		return
	}

	switch env.Type {
	case TypePermissionResult, TypeAudioEnded, TypeSpeechEnded, TypeVoicesResult:
		b.resolve(env)
	case TypeRecognizerStart, TypeRecognizerResult, TypeRecognizerError, TypeRecognizerEnd:
		b.signal(env)
	case TypeRecognizerSupported:
		if env.Supported != nil {
			b.mu.Lock()
			b.supported = *env.Supported
			b.mu.Unlock()
		}
	default:
		b.logger.Debug("ignored frame", "type", env.Type)
	}
}

func (b *Bridge) resolve(env Envelope) {
	b.mu.Lock()
	ch, ok := b.pending[env.ID]
	delete(b.pending, env.ID)
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("reply for unknown request", "type", env.Type, "id", env.ID)
		return
	}
	ch <- env
}

// disconnected runs on the hub loop. Once no browser is left, nobody can
// answer what is in flight: pending round trips fail and a running
// recognizer ends as if the browser had reported it.
func (b *Bridge) disconnected(c *hub.Client, remaining int) {
	if remaining > 0 {
		return
	}

	b.mu.Lock()
	failed := len(b.pending)
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	r := b.rec
	b.mu.Unlock()

	if failed > 0 {
		b.logger.Warn("browser left with requests in flight", "client", c.ID(), "failed", failed)
	}
	if r != nil && r.stopRunning() {
		r.sink(speech.Signal{Kind: speech.SignalEnd})
	}
}

func (b *Bridge) signal(env Envelope) {
	b.mu.Lock()
	r := b.rec
	b.mu.Unlock()
	if r == nil || r.id != env.ID {
		return
	}

	switch env.Type {
	case TypeRecognizerStart:
		r.sink(speech.Signal{Kind: speech.SignalStart})
	case TypeRecognizerResult:
		r.sink(speech.Signal{Kind: speech.SignalResult, Text: env.Text, Final: env.Final})
	case TypeRecognizerError:
		r.setRunning(false)
		r.sink(speech.Signal{Kind: speech.SignalError, Code: env.Code})
	case TypeRecognizerEnd:
		r.setRunning(false)
		r.sink(speech.Signal{Kind: speech.SignalEnd})
	}
}

// send broadcasts env. With a single learner there is one browser.
func (b *Bridge) send(env Envelope) {
	if err := b.hub.BroadcastJSON(env); err != nil {
		b.logger.Error("encode frame", "type", env.Type, "error", err)
	}
}

// request sends env with a fresh id and waits for the browser's reply.
func (b *Bridge) request(ctx context.Context, env Envelope) (Envelope, error) {
	if !b.Connected() {
		return Envelope{}, ErrNoBrowser
	}

	env.ID = uuid.NewString()
	return b.roundTrip(ctx, env)
}

// Supported reports what the browser last said about speech recognition.
func (b *Bridge) Supported() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supported
}

// RequestPermission asks the browser for microphone access.
func (b *Bridge) RequestPermission(ctx context.Context) (bool, error) {
	reply, err := b.request(ctx, Envelope{Type: TypePermissionReq})
	if err != nil {
		return false, err
	}
	return reply.Granted, nil
}

// NewRecognizer tells the browser to build a recognizer with s. Signals from
// any earlier recognizer are ignored from now on.
func (b *Bridge) NewRecognizer(s speech.Settings, sink speech.Sink) (speech.Recognizer, error) {
	r := &recognizer{id: uuid.NewString(), bridge: b, sink: sink}
	b.mu.Lock()
	b.rec = r
	b.mu.Unlock()

	settings := s
	b.send(Envelope{Type: TypeRecognizerInit, ID: r.id, Settings: &settings})
	return r, nil
}

type recognizer struct {
	id     string
	bridge *Bridge
	sink   speech.Sink

	mu      sync.Mutex
	running bool
}

func (r *recognizer) setRunning(v bool) {
	r.mu.Lock()
	r.running = v
	r.mu.Unlock()
}

// stopRunning clears running and reports whether it was set.
func (r *recognizer) stopRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.running
	r.running = false
	return was
}

func (r *recognizer) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return speech.ErrInvalidState
	}
	r.running = true
	r.mu.Unlock()

	if !r.bridge.Connected() {
		r.setRunning(false)
		return ErrNoBrowser
	}
	r.bridge.send(Envelope{Type: TypeRecognizerStart, ID: r.id})
	return nil
}

func (r *recognizer) Stop() {
	r.bridge.send(Envelope{Type: TypeRecognizerStop, ID: r.id})
}

func (r *recognizer) Abort() {
	r.bridge.send(Envelope{Type: TypeRecognizerAbort, ID: r.id})
}

// Play sends clip to the browser and waits until it has played.
func (b *Bridge) Play(ctx context.Context, clip *audio.Clip) error {
	if clip == nil || len(clip.Data) == 0 {
		return audio.ErrEmpty
	}
	b.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	env := Envelope{
		Type: TypeAudioPlay,
		MIME: clip.MIMEType,
		Data: base64.StdEncoding.EncodeToString(clip.Data),
	}
	if !b.Connected() {
		return audio.ErrNoPlayer
	}
	env.ID = uuid.NewString()

	b.playMu.Lock()
	b.playing = env.ID
	b.stopPlay = cancel
	b.playMu.Unlock()
	defer func() {
		b.playMu.Lock()
		if b.playing == env.ID {
			b.playing = ""
			b.stopPlay = nil
		}
		b.playMu.Unlock()
	}()

	reply, err := b.roundTrip(ctx, env)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			return audio.ErrStopped
		}
		if errors.Is(err, ErrNoBrowser) {
			return audio.ErrNoPlayer
		}
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("web: browser playback: %s", reply.Error)
	}
	return nil
}

// Stop interrupts browser playback.
func (b *Bridge) Stop() {
	b.playMu.Lock()
	id, cancel := b.playing, b.stopPlay
	b.playing, b.stopPlay = "", nil
	b.playMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	b.send(Envelope{Type: TypeAudioStop, ID: id})
}

// IsPlaying reports whether the browser is playing a clip for us.
func (b *Bridge) IsPlaying() bool {
	b.playMu.Lock()
	defer b.playMu.Unlock()
	return b.playing != ""
}

// Voices asks the browser for its speech synthesis voices.
func (b *Bridge) Voices(ctx context.Context) ([]voice.Voice, error) {
	reply, err := b.request(ctx, Envelope{Type: TypeVoicesRequest})
	if err != nil {
		return nil, err
	}
	return reply.Voices, nil
}

// Say speaks u with the browser's own synthesizer.
func (b *Bridge) Say(ctx context.Context, u voice.Utterance) error {
	b.Cancel()
	if !b.Connected() {
		return voice.ErrNoSynthesizer
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	env := Envelope{
		Type:   TypeSpeechSay,
		ID:     uuid.NewString(),
		Text:   u.Text,
		Lang:   u.Lang,
		Rate:   u.Rate,
		Pitch:  u.Pitch,
		Volume: u.Volume,
		Voice:  u.Voice,
	}

	b.sayMu.Lock()
	b.saying = env.ID
	b.stopSay = cancel
	b.sayMu.Unlock()
	defer func() {
		b.sayMu.Lock()
		if b.saying == env.ID {
			b.saying = ""
			b.stopSay = nil
		}
		b.sayMu.Unlock()
	}()

	reply, err := b.roundTrip(ctx, env)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			return voice.ErrCancelled
		}
		if errors.Is(err, ErrNoBrowser) {
			return voice.ErrNoSynthesizer
		}
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("web: browser speech: %s", reply.Error)
	}
	return nil
}

// Cancel stops the browser's current utterance.
func (b *Bridge) Cancel() {
	b.sayMu.Lock()
	id, cancel := b.saying, b.stopSay
	b.saying, b.stopSay = "", nil
	b.sayMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	b.send(Envelope{Type: TypeSpeechCancel, ID: id})
}

// roundTrip is request with a caller-chosen id.
func (b *Bridge) roundTrip(ctx context.Context, env Envelope) (Envelope, error) {
	ch := make(chan Envelope, 1)
	b.mu.Lock()
	b.pending[env.ID] = ch
	timeout := b.timeout
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, env.ID)
		b.mu.Unlock()
	}()

	// The last browser may have left between the caller's check and
	// registration, after the disconnect sweep.
	if !b.Connected() {
		return Envelope{}, ErrNoBrowser
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	b.send(env)

	select {
	case reply, ok := <-ch:
		if !ok {
			return Envelope{}, ErrNoBrowser
		}
		return reply, nil
	case <-expired:
		b.logger.Warn("browser round trip timed out", "type", env.Type, "id", env.ID, "timeout", timeout)
		return Envelope{}, fmt.Errorf("%w: %s after %s", ErrBrowserTimeout, env.Type, timeout)
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Notifier methods push session updates to the browser.

func (b *Bridge) StateChanged(s session.Snapshot) {
	b.send(Envelope{Type: TypeState, State: &s})
}

func (b *Bridge) Status(text string) {
	b.send(Envelope{Type: TypeStatus, Text: text})
}

func (b *Bridge) ShowError(text string) {
	b.send(Envelope{Type: TypeError, Text: text})
}

func (b *Bridge) ClearError() {
	b.send(Envelope{Type: TypeErrorClear})
}

func (b *Bridge) Conversation(turns []conversation.Turn) {
	b.send(Envelope{Type: TypeConversation, Turns: turns})
}

func (b *Bridge) Interim(text string) {
	b.send(Envelope{Type: TypeInterim, Text: text})
}

func (b *Bridge) Suggestions(s []conversation.Suggestion) {
	b.send(Envelope{Type: TypeSuggestions, Suggestions: s})
}

// Verify Bridge implements every role at compile time.
var (
	_ speech.Platform   = (*Bridge)(nil)
	_ audio.Player      = (*Bridge)(nil)
	_ voice.Synthesizer = (*Bridge)(nil)
	_ session.Notifier  = (*Bridge)(nil)
	_ speech.Recognizer = (*recognizer)(nil)
)
