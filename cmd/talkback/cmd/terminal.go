package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/go-talkback/pkg/conversation"
	"github.com/teslashibe/go-talkback/pkg/session"
)

var (
	colorPrimary   = lipgloss.Color("#8B5CF6") // Violet
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan
	colorSuccess   = lipgloss.Color("#10B981") // Emerald
	colorWarning   = lipgloss.Color("#F59E0B") // Amber
	colorError     = lipgloss.Color("#EF4444") // Red
	colorMuted     = lipgloss.Color("#6B7280") // Gray
)

var (
	aiLabelStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	meLabelStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

// levelStyles color suggestions by difficulty.
var levelStyles = map[conversation.Level]lipgloss.Style{
	conversation.LevelBeginner:     lipgloss.NewStyle().Foreground(colorSuccess),
	conversation.LevelIntermediate: lipgloss.NewStyle().Foreground(colorWarning),
	conversation.LevelAdvanced:     lipgloss.NewStyle().Foreground(colorError),
}

// terminal renders session notifications as styled lines.
type terminal struct {
	mu         sync.Mutex
	out        io.Writer
	lastStatus string
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) StateChanged(session.Snapshot) {}

// Status prints status lines once per change.
func (t *terminal) Status(text string) {
	t.mu.Lock()
	if text == t.lastStatus {
		t.mu.Unlock()
		return
	}
	t.lastStatus = text
	t.mu.Unlock()
	t.printf("%s\n", statusStyle.Render("· "+text))
}

func (t *terminal) ShowError(text string) {
	t.printf("%s\n", errorStyle.Render("! "+text))
}

func (t *terminal) ClearError() {}

// Conversation prints the newest turn. The session notifies once per appended
// turn, and with nil after a reset.
func (t *terminal) Conversation(turns []conversation.Turn) {
	if len(turns) == 0 {
		t.printf("%s\n", hintStyle.Render("(conversation cleared)"))
		return
	}
	t.printf("%s\n", renderTurn(turns[len(turns)-1]))
}

func (t *terminal) Interim(text string) {}

func (t *terminal) Suggestions(s []conversation.Suggestion) {
	if len(s) == 0 {
		return
	}
	t.printf("%s\n", renderSuggestions(s))
}

func renderTurn(turn conversation.Turn) string {
	label := aiLabelStyle.Render(turn.Role.Label() + ":")
	if turn.Role == conversation.RoleUser {
		label = meLabelStyle.Render(turn.Role.Label() + ":")
	}
	return label + " " + turn.Text
}

func renderSuggestions(s []conversation.Suggestion) string {
	var b strings.Builder
	b.WriteString(hintStyle.Render("Try saying (/say <n>):"))
	for i, sg := range s {
		style, ok := levelStyles[sg.Level]
		if !ok {
			style = hintStyle
		}
		fmt.Fprintf(&b, "\n  %d. %s %s", i+1, style.Render(fmt.Sprintf("[%s, age %d]", sg.Level, sg.Age)), sg.Text)
	}
	return b.String()
}

var _ session.Notifier = (*terminal)(nil)
