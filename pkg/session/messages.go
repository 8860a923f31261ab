package session

import "github.com/teslashibe/go-talkback/pkg/speech"

// Status lines shown to the learner.
const (
	StatusReady          = "Tap the mic and start talking!"
	StatusRequesting     = "Requesting microphone permission..."
	StatusThinking       = "AI is thinking..."
	StatusSpeaking       = "AI is speaking..."
	StatusWait           = "Please wait a moment..."
	StatusMicOff         = "The microphone is off."
	StatusMicDisabled    = "The microphone is turned off."
	StatusImageAttached  = "Image attached. Tell me about it!"
	StatusReadingAloud   = "Reading the sentence aloud..."
	StatusNoSpeech       = "No speech detected, try again"
	StatusPermissionLost = "Microphone access is blocked. Allow it and start again."
)

// Error lines shown to the learner.
const (
	MsgPermissionRequired = "Microphone permission is required. Please allow the microphone in your browser settings."
	MsgUnsupported        = "This browser does not support speech recognition. Please use Chrome."
	MsgPermissionBlocked  = "Microphone access is blocked. Click the lock icon next to the address bar and allow the microphone."
	MsgDeviceUnavailable  = "Microphone not found. Please check that a microphone is connected."
	MsgNetwork            = "Network error. Please check your internet connection."
)

// listeningStatus is shown while interim results arrive.
func listeningStatus(text string) string {
	return `Listening: "` + text + `"`
}

// otherErrorMessage is shown for unclassified recognition errors.
func otherErrorMessage(code string) string {
	if code == "" {
		code = string(speech.KindOther)
	}
	return "Error: " + code + ". Please try again."
}

// generationErrorMessage is shown when the reply could not be generated.
func generationErrorMessage(err error) string {
	return "API error: " + err.Error()
}
