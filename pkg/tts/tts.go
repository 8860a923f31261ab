// Package tts provides the remote text-to-speech interface used for the
// partner's voice.
//
// Google Cloud Text-to-Speech is the backend. Callers depend on Provider so
// tests can substitute Mock and a failed synthesis can fall back to the local
// voice without caring which service produced the audio.
//
// Example usage:
//
//	provider, _ := tts.NewGoogle(
//	    tts.WithCredentials(store),
//	    tts.WithVoice("en-US-Neural2-F"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Hello world")
//	// result.Audio holds MP3 bytes, result.Format describes them
package tts

import (
	"context"
	"strconv"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and credential validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	Voices(ctx context.Context, languageCode string) ([]VoiceInfo, error)
}

// VoiceInfo describes one remote voice.
type VoiceInfo struct {
	Name       string
	Languages  []string
	Gender     string
	SampleRate int
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the encoded audio in Format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the estimated playback duration, zero when unknown.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round trip in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding is the codec the service was asked for.
	Encoding Encoding

	// SampleRate in Hz (e.g., 24000). Zero means the service default.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// BitDepth for linear PCM.
	BitDepth int
}

// Encoding names an audio encoding as Cloud Text-to-Speech spells it.
type Encoding string

const (
	EncodingMP3      Encoding = "MP3"
	EncodingLinear16 Encoding = "LINEAR16" // 16-bit little endian PCM; Google adds a WAV header
	EncodingOggOpus  Encoding = "OGG_OPUS"
	EncodingMulaw    Encoding = "MULAW"
	EncodingAlaw     Encoding = "ALAW"
)

// MIMEType returns the media type for audio in this encoding.
func (e Encoding) MIMEType() string {
	switch e {
	case EncodingMP3:
		return "audio/mpeg"
	case EncodingLinear16:
		return "audio/L16"
	case EncodingOggOpus:
		return "audio/ogg"
	case EncodingMulaw:
		return "audio/basic"
	case EncodingAlaw:
		return "audio/x-alaw-basic"
	default:
		return "application/octet-stream"
	}
}

// Raw reports whether the encoding may arrive as bare samples.
func (e Encoding) Raw() bool {
	return e == EncodingLinear16
}

// Valid reports whether e is one of the supported encodings.
func (e Encoding) Valid() bool {
	switch e {
	case EncodingMP3, EncodingLinear16, EncodingOggOpus, EncodingMulaw, EncodingAlaw:
		return true
	}
	return false
}

// MIMEType returns the media type for this result, with the sample rate for PCM.
func (f AudioFormat) MIMEType() string {
	if f.Encoding == EncodingLinear16 && f.SampleRate > 0 {
		return "audio/L16;rate=" + strconv.Itoa(f.SampleRate)
	}
	return f.Encoding.MIMEType()
}

// VoiceSettings controls prosody for the remote voice.
type VoiceSettings struct {
	// SpeakingRate is 0.25 to 4.0, 1.0 is normal speed.
	SpeakingRate float64

	// Pitch is -20.0 to 20.0 semitones.
	Pitch float64

	// VolumeGainDb is -96.0 to 16.0.
	VolumeGainDb float64
}

// DefaultVoiceSettings returns normal rate and pitch.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{SpeakingRate: 1.0}
}
