// Package conversation defines the turn history, suggestions and pending
// image that make up one practice conversation.
//
// History is append-only: turns are never reordered or edited in place.
// It is trimmed to a context window for generation requests and to a
// smaller display window for rendering.
package conversation

import (
	"strings"
	"sync"
)

// Window sizes used by the session.
const (
	// DefaultContextTurns is how many recent turns go into a generation request.
	DefaultContextTurns = 6

	// DefaultDisplayTurns is how many recent turns are rendered.
	DefaultDisplayTurns = 2
)

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser is the learner.
	RoleUser Role = "user"

	// RoleAssistant is the AI partner.
	RoleAssistant Role = "assistant"
)

// Label returns the prefix used in exported transcripts.
func (r Role) Label() string {
	if r == RoleUser {
		return "Me"
	}
	return "AI"
}

// PromptLabel returns the prefix used when the history is embedded in a prompt.
func (r Role) PromptLabel() string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}

// Turn is one utterance. Turns are values and are never mutated after creation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserTurn creates a learner turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// AssistantTurn creates an AI turn.
func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

// History is an ordered, append-only sequence of turns.
// It is safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds a turn at the end.
func (h *History) Append(t Turn) {
	h.mu.Lock()
	h.turns = append(h.turns, t)
	h.mu.Unlock()
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Turns returns a copy of every turn, oldest first.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Recent returns a copy of the last k turns, oldest first.
// k <= 0 returns nil; k larger than the history returns everything.
func (h *History) Recent(k int) []Turn {
	if k <= 0 {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := len(h.turns) - k
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(h.turns)-start)
	copy(out, h.turns[start:])
	return out
}

// Last returns the most recent turn.
func (h *History) Last() (Turn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

// Reset drops every turn. Only a full session reset calls this.
func (h *History) Reset() {
	h.mu.Lock()
	h.turns = nil
	h.mu.Unlock()
}

// Transcript renders the history as plain text for sharing.
func (h *History) Transcript() string {
	return Transcript(h.Turns())
}

// Transcript renders turns as role-prefixed lines separated by blank lines.
func Transcript(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role.Label()+": "+t.Text)
	}
	return strings.Join(lines, "\n\n")
}
