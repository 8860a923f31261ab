package speech

// EventKind identifies an Event.
type EventKind int

const (
	EventInterim EventKind = iota // partial transcript, may repeat
	EventFinal                    // final transcript of one utterance
	EventError                    // recognition failed
	EventState                    // capture state changed
)

func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	case EventState:
		return "state"
	default:
		return "unknown"
	}
}

// State is the capture state reported with EventState.
type State string

const (
	StateListening State = "listening"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// ErrorKind classifies recognition failures.
type ErrorKind string

const (
	KindPermissionDenied  ErrorKind = "permission-denied"
	KindNoSpeech          ErrorKind = "no-speech"
	KindDeviceUnavailable ErrorKind = "device-unavailable"
	KindNetwork           ErrorKind = "network"
	KindUserAborted       ErrorKind = "user-aborted"
	KindOther             ErrorKind = "other"
)

// Event is emitted on Capture.Events.
type Event struct {
	Kind EventKind

	// Text is set for EventInterim and EventFinal.
	Text string

	// Error and Code are set for EventError. Code is the platform's raw code.
	Error ErrorKind
	Code  string

	// State is set for EventState.
	State State
}

// MapError maps a platform error code to an ErrorKind.
// The codes are those of the Web Speech API.
func MapError(code string) ErrorKind {
	switch code {
	case "not-allowed", "service-not-allowed":
		return KindPermissionDenied
	case "no-speech":
		return KindNoSpeech
	case "audio-capture":
		return KindDeviceUnavailable
	case "network":
		return KindNetwork
	case "aborted":
		return KindUserAborted
	default:
		return KindOther
	}
}
