package speech

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	// ErrUnsupported is returned when the platform cannot recognize speech.
	ErrUnsupported = errors.New("speech: recognition not supported")

	// ErrInvalidState is returned by Recognizer.Start when it is already running.
	ErrInvalidState = errors.New("speech: recognizer in invalid state")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("speech: capture closed")
)

// Settings configure a recognizer.
type Settings struct {
	Locale          string `json:"locale"`
	Continuous      bool   `json:"continuous"`
	InterimResults  bool   `json:"interimResults"`
	MaxAlternatives int    `json:"maxAlternatives"`
}

// DefaultSettings returns one utterance per session with interim results.
func DefaultSettings(locale string) Settings {
	if locale == "" {
		locale = "en-US"
	}
	return Settings{
		Locale:          locale,
		Continuous:      false,
		InterimResults:  true,
		MaxAlternatives: 1,
	}
}

// SignalKind identifies a raw recognizer signal.
type SignalKind int

const (
	SignalStart SignalKind = iota
	SignalResult
	SignalError
	SignalEnd
)

// Signal is a raw notification from a Recognizer.
type Signal struct {
	Kind  SignalKind
	Text  string
	Final bool
	Code  string
}

// Sink receives a recognizer's signals. It may be called from any goroutine
// but must not be called while the recognizer holds locks Capture waits on.
type Sink func(Signal)

// Platform is a host that may offer speech recognition.
type Platform interface {
	// Supported reports whether recognition is available at all.
	Supported() bool

	// RequestPermission asks the user for microphone access.
	RequestPermission(ctx context.Context) (bool, error)

	// NewRecognizer builds a recognizer that reports to sink.
	NewRecognizer(s Settings, sink Sink) (Recognizer, error)
}

// Recognizer is one recognition instance.
type Recognizer interface {
	// Start begins a session. It returns ErrInvalidState if one is running.
	Start() error

	// Stop ends the session, delivering any pending result.
	Stop()

	// Abort ends the session and discards pending results.
	Abort()
}
