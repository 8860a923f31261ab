package session

import (
	"sync"

	"github.com/teslashibe/go-talkback/pkg/conversation"
)

// Snapshot is the observable session state.
type Snapshot struct {
	ID                string `json:"id"`
	State             State  `json:"state"`
	Processing        bool   `json:"processing"`
	Listening         bool   `json:"listening"`
	Speaking          bool   `json:"speaking"`
	MicEnabled        bool   `json:"micEnabled"`
	PermissionBlocked bool   `json:"permissionBlocked"`
	Started           bool   `json:"started"`
	HasImage          bool   `json:"hasImage"`
	Turns             int    `json:"turns"`
	Status            string `json:"status"`
	Error             string `json:"error,omitempty"`
}

// Notifier is the user interface the session drives.
// Methods are called outside the session lock and may block briefly.
type Notifier interface {
	StateChanged(Snapshot)
	Status(text string)
	ShowError(text string)
	ClearError()
	Conversation(turns []conversation.Turn)
	Interim(text string)
	Suggestions(s []conversation.Suggestion)
}

// Nop ignores every notification.
type Nop struct{}

func (Nop) StateChanged(Snapshot)                 {}
func (Nop) Status(string)                         {}
func (Nop) ShowError(string)                      {}
func (Nop) ClearError()                           {}
func (Nop) Conversation([]conversation.Turn)      {}
func (Nop) Interim(string)                        {}
func (Nop) Suggestions([]conversation.Suggestion) {}

// Multi fans notifications out to several notifiers in order.
type Multi []Notifier

func (m Multi) StateChanged(s Snapshot) {
	for _, n := range m {
		n.StateChanged(s)
	}
}

func (m Multi) Status(text string) {
	for _, n := range m {
		n.Status(text)
	}
}

func (m Multi) ShowError(text string) {
	for _, n := range m {
		n.ShowError(text)
	}
}

func (m Multi) ClearError() {
	for _, n := range m {
		n.ClearError()
	}
}

func (m Multi) Conversation(turns []conversation.Turn) {
	for _, n := range m {
		n.Conversation(turns)
	}
}

func (m Multi) Interim(text string) {
	for _, n := range m {
		n.Interim(text)
	}
}

func (m Multi) Suggestions(s []conversation.Suggestion) {
	for _, n := range m {
		n.Suggestions(s)
	}
}

// Notification is one call recorded by Recorder.
type Notification struct {
	Method      string
	Text        string
	Snapshot    Snapshot
	Turns       []conversation.Turn
	Suggestions []conversation.Suggestion
}

// Recorder records notifications for tests.
type Recorder struct {
	mu  sync.Mutex
	log []Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, n)
}

func (r *Recorder) StateChanged(s Snapshot) { r.add(Notification{Method: "StateChanged", Snapshot: s}) }
func (r *Recorder) Status(text string)      { r.add(Notification{Method: "Status", Text: text}) }
func (r *Recorder) ShowError(text string)   { r.add(Notification{Method: "ShowError", Text: text}) }
func (r *Recorder) ClearError()             { r.add(Notification{Method: "ClearError"}) }
func (r *Recorder) Interim(text string)     { r.add(Notification{Method: "Interim", Text: text}) }

func (r *Recorder) Conversation(turns []conversation.Turn) {
	r.add(Notification{Method: "Conversation", Turns: turns})
}

func (r *Recorder) Suggestions(s []conversation.Suggestion) {
	r.add(Notification{Method: "Suggestions", Suggestions: s})
}

// All returns every recorded notification.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.log))
	copy(out, r.log)
	return out
}

// Methods returns the recorded method names in order.
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.log))
	for i, n := range r.log {
		out[i] = n.Method
	}
	return out
}

// Texts returns the text of every call to method.
func (r *Recorder) Texts(method string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.log {
		if n.Method == method {
			out = append(out, n.Text)
		}
	}
	return out
}

// Last returns the most recent call to method.
func (r *Recorder) Last(method string) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.log) - 1; i >= 0; i-- {
		if r.log[i].Method == method {
			return r.log[i], true
		}
	}
	return Notification{}, false
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
}

// Verify the notifiers implement Notifier at compile time.
var (
	_ Notifier = Nop{}
	_ Notifier = Multi(nil)
	_ Notifier = (*Recorder)(nil)
)
