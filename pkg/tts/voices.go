package tts

// GoogleVoices maps friendly preset names to Cloud Text-to-Speech voice names.
// Use ResolveVoice to look up a voice by name or pass through raw names.
var GoogleVoices = map[string]string{
	"female":    "en-US-Neural2-F", // American female, warm
	"female-c":  "en-US-Neural2-C", // American female, bright
	"female-h":  "en-US-Neural2-H", // American female, soft
	"male":      "en-US-Neural2-D", // American male, calm
	"male-j":    "en-US-Neural2-J", // American male, deep
	"british":   "en-GB-Neural2-A", // British female
	"australia": "en-AU-Neural2-C", // Australian female
}

// DefaultVoice is the voice the partner speaks with.
const DefaultVoice = "en-US-Neural2-F"

// ResolveVoice returns the voice name for a preset,
// or the input unchanged if it's already a voice name.
func ResolveVoice(name string) string {
	if id, ok := GoogleVoices[name]; ok {
		return id
	}
	return name
}

// IsPreset returns true if the name is a known preset.
func IsPreset(name string) bool {
	_, ok := GoogleVoices[name]
	return ok
}

// LanguageOf returns the language code embedded in a voice name
// ("en-GB-Neural2-A" gives "en-GB"), or "" when there is none.
func LanguageOf(voice string) string {
	dash := 0
	for i := 0; i < len(voice); i++ {
		if voice[i] == '-' {
			dash++
			if dash == 2 {
				return voice[:i]
			}
		}
	}
	return ""
}
