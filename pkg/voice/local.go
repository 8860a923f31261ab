package voice

import (
	"context"
	"strings"
)

// Voice is one voice offered by a local synthesizer.
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// Utterance is a single request to a local synthesizer.
type Utterance struct {
	Text   string
	Lang   string
	Rate   float64
	Pitch  float64
	Volume float64
	Voice  string // "" lets the platform choose
}

// Synthesizer speaks text with the host's built-in voices.
type Synthesizer interface {
	// Voices lists the installed voices.
	Voices(ctx context.Context) ([]Voice, error)

	// Say speaks u and blocks until it finishes, is cancelled, or ctx is done.
	Say(ctx context.Context, u Utterance) error

	// Cancel stops the current utterance. Safe to call when silent.
	Cancel()
}

// LocalSettings are the prosody values used for the local voice.
type LocalSettings struct {
	Lang   string
	Rate   float64
	Pitch  float64
	Volume float64
}

// DefaultLocalSettings returns a slightly slow, slightly high voice for learners.
func DefaultLocalSettings() LocalSettings {
	return LocalSettings{
		Lang:   "en-US",
		Rate:   0.95,
		Pitch:  1.1,
		Volume: 1.0,
	}
}

// preferredNames are matched against English voices, in any order.
var preferredNames = []string{"Google US English", "Samantha", "Female"}

// SelectVoice picks the local voice to speak with:
// an English voice with a preferred name, else the first en-US voice,
// else the zero Voice (platform default).
func SelectVoice(voices []Voice) Voice {
	for _, v := range voices {
		if !strings.HasPrefix(normalizeLang(v.Lang), "en") {
			continue
		}
		for _, name := range preferredNames {
			if strings.Contains(v.Name, name) {
				return v
			}
		}
	}
	for _, v := range voices {
		if strings.HasPrefix(normalizeLang(v.Lang), "en-US") {
			return v
		}
	}
	return Voice{}
}

// normalizeLang turns "en_US" into "en-US".
func normalizeLang(lang string) string {
	return strings.ReplaceAll(lang, "_", "-")
}
