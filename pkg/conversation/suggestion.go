package conversation

// Level is the difficulty of a suggested reply.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Levels lists the levels in the order suggestions are presented.
var Levels = []Level{LevelBeginner, LevelIntermediate, LevelAdvanced}

// Valid reports whether l is one of the three known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// Suggestion is a reply the learner could say next.
// Age is the approximate speaker age the phrasing targets (5, 10, 20).
type Suggestion struct {
	Text  string `json:"text"`
	Level Level  `json:"level"`
	Age   int    `json:"age"`
}

// Reply is one AI turn: the spoken text plus suggested answers.
type Reply struct {
	Text        string       `json:"aiResponse"`
	Suggestions []Suggestion `json:"suggestions"`
}

// WelcomeMessage opens every session.
const WelcomeMessage = "Hi there! It's so nice to meet you! I'm here to help you practice English. How's your day going so far?"

// WelcomeSuggestions are shown after the welcome message.
func WelcomeSuggestions() []Suggestion {
	return []Suggestion{
		{Text: "I'm good!", Level: LevelBeginner, Age: 5},
		{Text: "My day is going pretty well, thanks for asking.", Level: LevelIntermediate, Age: 10},
		{Text: "I'm having a wonderful day! I've been looking forward to practicing my English.", Level: LevelAdvanced, Age: 20},
	}
}
