package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-talkback/pkg/conversation"
	"github.com/teslashibe/go-talkback/pkg/inference"
	"github.com/teslashibe/go-talkback/pkg/reply"
	"github.com/teslashibe/go-talkback/pkg/session"
	"github.com/teslashibe/go-talkback/pkg/speech"
)

// fakeGenerator records Generate calls.
type fakeGenerator struct {
	GenerateFunc func(ctx context.Context, text string, recent []conversation.Turn, image *conversation.Image) (*conversation.Reply, error)

	mu    sync.Mutex
	calls []generateCall
}

type generateCall struct {
	Text   string
	Recent []conversation.Turn
	Image  *conversation.Image
}

func (g *fakeGenerator) Generate(ctx context.Context, text string, recent []conversation.Turn, image *conversation.Image) (*conversation.Reply, error) {
	g.mu.Lock()
	g.calls = append(g.calls, generateCall{Text: text, Recent: recent, Image: image})
	g.mu.Unlock()
	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, text, recent, image)
	}
	return testReply, nil
}

func (g *fakeGenerator) Calls() []generateCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generateCall(nil), g.calls...)
}

// fakeSpeaker records what was said.
type fakeSpeaker struct {
	SpeakFunc func(ctx context.Context, text string)
	StopFunc  func()

	mu    sync.Mutex
	said  []string
	stops int
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) {
	s.mu.Lock()
	s.said = append(s.said, text)
	s.mu.Unlock()
	if s.SpeakFunc != nil {
		s.SpeakFunc(ctx, text)
	}
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	if s.StopFunc != nil {
		s.StopFunc()
	}
}

func (s *fakeSpeaker) Said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

func (s *fakeSpeaker) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

var testReply = &conversation.Reply{
	Text: "That sounds lovely! What did you do at the park?",
	Suggestions: []conversation.Suggestion{
		{Text: "I played.", Level: conversation.LevelBeginner, Age: 5},
		{Text: "I played football with my friends.", Level: conversation.LevelIntermediate, Age: 10},
		{Text: "We had a picnic and a long game of football.", Level: conversation.LevelAdvanced, Age: 20},
	},
}

type fixture struct {
	session  *session.Session
	platform *speech.MockPlatform
	capture  *speech.Capture
	gen      *fakeGenerator
	speaker  *fakeSpeaker
	notes    *session.Recorder
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		platform: speech.NewMockPlatform(),
		gen:      &fakeGenerator{},
		speaker:  &fakeSpeaker{},
		notes:    session.NewRecorder(),
	}
	f.capture = speech.New(f.platform)
	t.Cleanup(func() { _ = f.capture.Close() })

	opts = append([]session.Option{session.WithNotifier(f.notes)}, opts...)
	f.session = session.New(f.capture, f.gen, f.speaker, opts...)
	return f
}

func (f *fixture) begin(t *testing.T) {
	t.Helper()
	if err := f.session.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func lastStatus(r *session.Recorder) string {
	n, _ := r.Last("Status")
	return n.Text
}

func indexOf(methods []string, method string, from int) int {
	for i := from; i < len(methods); i++ {
		if methods[i] == method {
			return i
		}
	}
	return -1
}

func TestBegin(t *testing.T) {
	f := newFixture(t)
	f.begin(t)

	said := f.speaker.Said()
	if len(said) != 1 || said[0] != conversation.WelcomeMessage {
		t.Fatalf("said = %q", said)
	}
	turns := f.session.History()
	if len(turns) != 1 || turns[0].Role != conversation.RoleAssistant {
		t.Fatalf("history = %+v", turns)
	}
	if got := f.session.Suggestions(); len(got) != 3 || got[0].Text != "I'm good!" {
		t.Errorf("suggestions = %+v", got)
	}

	snap := f.session.Snapshot()
	if snap.State != session.StateIdle || !snap.Started || snap.Speaking {
		t.Errorf("snapshot = %+v", snap)
	}
	if lastStatus(f.notes) != session.StatusReady {
		t.Errorf("status = %q", lastStatus(f.notes))
	}

	statuses := f.notes.Texts("Status")
	if indexOf(statuses, session.StatusSpeaking, 0) < 0 {
		t.Errorf("expected speaking status, got %q", statuses)
	}

	t.Run("second begin does not repeat the welcome", func(t *testing.T) {
		if err := f.session.Begin(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(f.speaker.Said()) != 1 || f.session.Snapshot().Turns != 1 {
			t.Error("welcome repeated")
		}
	})
}

func TestBeginPermissionDenied(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	grant := false
	f.platform.PermissionFunc = func(ctx context.Context) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		return grant, nil
	}

	if err := f.session.Begin(context.Background()); !errors.Is(err, session.ErrPermissionDenied) {
		t.Fatalf("Begin err = %v", err)
	}
	if n, _ := f.notes.Last("ShowError"); n.Text != session.MsgPermissionRequired {
		t.Errorf("error = %q", n.Text)
	}
	if !f.session.Snapshot().PermissionBlocked {
		t.Error("expected permission blocked")
	}
	if err := f.session.StartListening(); !errors.Is(err, session.ErrPermissionDenied) {
		t.Errorf("StartListening err = %v", err)
	}
	if len(f.speaker.Said()) != 0 {
		t.Error("nothing should be spoken without permission")
	}

	mu.Lock()
	grant = true
	mu.Unlock()

	if err := f.session.RequestPermission(context.Background()); err != nil {
		t.Fatalf("RequestPermission: %v", err)
	}
	if err := f.session.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if f.session.State() != session.StateListening {
		t.Errorf("state = %s", f.session.State())
	}
}

func TestBeginUnsupported(t *testing.T) {
	f := newFixture(t)
	f.platform.Unsupported = true

	if err := f.session.Begin(context.Background()); !errors.Is(err, session.ErrUnsupported) {
		t.Fatalf("Begin err = %v", err)
	}
	if n, _ := f.notes.Last("ShowError"); n.Text != session.MsgUnsupported {
		t.Errorf("error = %q", n.Text)
	}
}

func TestTurn(t *testing.T) {
	f := newFixture(t)
	f.begin(t)
	if err := f.session.StartListening(); err != nil {
		t.Fatal(err)
	}
	rec := f.platform.Current()
	f.notes.Reset()

	// Capture must already be stopped when generation begins.
	var listeningAtGenerate bool
	stopsAtGenerate := -1
	f.gen.GenerateFunc = func(ctx context.Context, text string, recent []conversation.Turn, image *conversation.Image) (*conversation.Reply, error) {
		listeningAtGenerate = f.capture.Listening()
		_, stopsAtGenerate, _ = rec.Counts()
		return testReply, nil
	}

	if err := f.session.HandleUserSpeech(context.Background(), "  I went to the park  "); err != nil {
		t.Fatal(err)
	}
	if listeningAtGenerate {
		t.Error("capture still listening when Generate was called")
	}
	if stopsAtGenerate != 1 {
		t.Errorf("capture stops at Generate = %d, want 1", stopsAtGenerate)
	}

	calls := f.gen.Calls()
	if len(calls) != 1 {
		t.Fatalf("generate calls = %d", len(calls))
	}
	if calls[0].Text != "I went to the park" {
		t.Errorf("text = %q", calls[0].Text)
	}
	recent := calls[0].Recent
	if len(recent) != 2 || recent[0].Text != conversation.WelcomeMessage || recent[1].Text != "I went to the park" {
		t.Errorf("recent = %+v", recent)
	}

	if _, stops, _ := rec.Counts(); stops != 1 {
		t.Errorf("capture stops = %d, want 1", stops)
	}

	said := f.speaker.Said()
	if len(said) != 2 || said[1] != testReply.Text {
		t.Errorf("said = %q", said)
	}
	if got := f.session.Suggestions(); len(got) != 3 || got[1].Level != conversation.LevelIntermediate {
		t.Errorf("suggestions = %+v", got)
	}

	snap := f.session.Snapshot()
	if snap.State != session.StateIdle || snap.Processing || snap.Turns != 3 {
		t.Errorf("snapshot = %+v", snap)
	}

	// Thinking, then conversation, then suggestions.
	methods := f.notes.Methods()
	clear := indexOf(methods, "ClearError", 0)
	conv := indexOf(methods, "Conversation", clear)
	sugg := indexOf(methods, "Suggestions", conv)
	if clear < 0 || conv < 0 || sugg < 0 {
		t.Errorf("unexpected notification order %v", methods)
	}
	statuses := f.notes.Texts("Status")
	think := indexOf(statuses, session.StatusThinking, 0)
	speak := indexOf(statuses, session.StatusSpeaking, think)
	ready := indexOf(statuses, session.StatusReady, speak)
	if think < 0 || speak < 0 || ready < 0 {
		t.Errorf("statuses = %q", statuses)
	}

	if n, _ := f.notes.Last("Conversation"); len(n.Turns) != conversation.DefaultDisplayTurns {
		t.Errorf("display turns = %d", len(n.Turns))
	}

	turns, falls := f.session.Metrics().Counts()
	if turns != 1 || falls != 0 {
		t.Errorf("metrics counts = %d, %d", turns, falls)
	}
}

func TestTurnContextWindow(t *testing.T) {
	f := newFixture(t, session.WithContextTurns(3), session.WithDisplayTurns(1))
	f.begin(t)

	for _, line := range []string{"one", "two", "three"} {
		if err := f.session.HandleUserSpeech(context.Background(), line); err != nil {
			t.Fatal(err)
		}
	}

	calls := f.gen.Calls()
	recent := calls[len(calls)-1].Recent
	if len(recent) != 3 || recent[2].Text != "three" || recent[1].Text != testReply.Text {
		t.Errorf("recent = %+v", recent)
	}
	if d := f.session.Display(); len(d) != 1 || d[0].Text != testReply.Text {
		t.Errorf("display = %+v", d)
	}
	if f.session.Snapshot().Turns != 7 {
		t.Errorf("turns = %d", f.session.Snapshot().Turns)
	}
}

func TestTurnFallback(t *testing.T) {
	f := newFixture(t)
	f.gen.GenerateFunc = func(ctx context.Context, text string, recent []conversation.Turn, image *conversation.Image) (*conversation.Reply, error) {
		return nil, errors.New("quota exceeded")
	}
	f.begin(t)

	text := "I watched a movie yesterday"
	if err := f.session.HandleUserSpeech(context.Background(), text); err != nil {
		t.Fatal(err)
	}

	want := reply.Fallback(text)
	if n, _ := f.notes.Last("ShowError"); n.Text != "API error: quota exceeded" {
		t.Errorf("error = %q", n.Text)
	}
	said := f.speaker.Said()
	if said[len(said)-1] != want.Text {
		t.Errorf("spoke %q, want fallback %q", said[len(said)-1], want.Text)
	}
	last, _ := conversationLast(f.session)
	if last.Text != want.Text {
		t.Errorf("last turn = %q", last.Text)
	}
	if got := f.session.Suggestions(); len(got) != len(want.Suggestions) || got[0] != want.Suggestions[0] {
		t.Errorf("suggestions = %+v", got)
	}
	if _, falls := f.session.Metrics().Counts(); falls != 1 {
		t.Errorf("fallbacks = %d", falls)
	}
	if f.session.Snapshot().Processing {
		t.Error("processing must be cleared after a failed turn")
	}
}

func TestTurnWithGenerator(t *testing.T) {
	provider := inference.NewMockText(`{"aiResponse": "Nice! Who did you go with?", "suggestions": [
		{"text": "My mom.", "level": "beginner", "age": 5},
		{"text": "I went with my mom.", "level": "intermediate", "age": 10},
		{"text": "My mother came along, she loves the park.", "level": "advanced", "age": 20}]}`)

	platform := speech.NewMockPlatform()
	capture := speech.New(platform)
	defer capture.Close()
	speaker := &fakeSpeaker{}
	s := session.New(capture, reply.New(provider), speaker)

	if err := s.HandleUserSpeech(context.Background(), "I went to the park"); err != nil {
		t.Fatal(err)
	}
	if said := speaker.Said(); len(said) != 1 || said[0] != "Nice! Who did you go with?" {
		t.Errorf("said = %q", said)
	}
	if got := s.Suggestions(); len(got) != 3 || got[2].Age != 20 {
		t.Errorf("suggestions = %+v", got)
	}
	if req := provider.LastRequest(); req == nil || !strings.Contains(req.Messages[0].Content, "I went to the park") {
		t.Error("prompt should contain the learner's line")
	}
}

func TestTurnIgnoresEmptyText(t *testing.T) {
	f := newFixture(t)
	if err := f.session.HandleUserSpeech(context.Background(), "   "); err != nil {
		t.Fatal(err)
	}
	if len(f.gen.Calls()) != 0 || f.session.Snapshot().Turns != 0 {
		t.Error("empty text must not start a turn")
	}
}

func TestTurnWhileProcessing(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.gen.GenerateFunc = func(ctx context.Context, text string, recent []conversation.Turn, image *conversation.Image) (*conversation.Reply, error) {
		<-release
		return testReply, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- f.session.HandleUserSpeech(context.Background(), "first")
	}()
	waitFor(t, "processing", func() bool { return len(f.gen.Calls()) == 1 })

	if !f.session.Snapshot().Processing {
		t.Error("expected processing")
	}
	if err := f.session.HandleUserSpeech(context.Background(), "second"); err != nil {
		t.Errorf("concurrent turn err = %v", err)
	}
	if err := f.session.StartListening(); !errors.Is(err, session.ErrBusy) {
		t.Errorf("StartListening err = %v", err)
	}
	if lastStatus(f.notes) != session.StatusWait {
		t.Errorf("status = %q", lastStatus(f.notes))
	}
	if err := f.session.SpeakSuggestion(context.Background(), "I'm good!"); !errors.Is(err, session.ErrBusy) {
		t.Errorf("SpeakSuggestion err = %v", err)
	}
	if err := f.session.Reset(); !errors.Is(err, session.ErrBusy) {
		t.Errorf("Reset err = %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := len(f.gen.Calls()); n != 1 {
		t.Errorf("generate calls = %d, want 1", n)
	}
	if turns := f.session.History(); len(turns) != 2 || turns[0].Text != "first" {
		t.Errorf("history = %+v", turns)
	}
}

func TestTurnInterruptsSpeech(t *testing.T) {
	f := newFixture(t)
	stopped := make(chan struct{})
	var once sync.Once
	f.speaker.StopFunc = func() { once.Do(func() { close(stopped) }) }
	f.speaker.SpeakFunc = func(ctx context.Context, text string) {
		if text == "hold" {
			<-stopped
		}
	}

	done := make(chan error, 1)
	go func() { done <- f.session.SpeakSuggestion(context.Background(), "hold") }()
	waitFor(t, "speaking", func() bool { return f.session.State() == session.StateSpeaking })

	if err := f.session.HandleUserSpeech(context.Background(), "sorry, go on"); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if f.speaker.Stops() == 0 {
		t.Error("speaker should be stopped")
	}
	if f.session.State() != session.StateIdle {
		t.Errorf("state = %s", f.session.State())
	}
	said := f.speaker.Said()
	if said[len(said)-1] != testReply.Text {
		t.Errorf("said = %q", said)
	}
}

func TestSpeakSuggestion(t *testing.T) {
	f := newFixture(t)
	f.begin(t)
	f.notes.Reset()

	if err := f.session.SpeakSuggestion(context.Background(), "I'm good!"); err != nil {
		t.Fatal(err)
	}
	said := f.speaker.Said()
	if said[len(said)-1] != "I'm good!" {
		t.Errorf("said = %q", said)
	}
	if f.session.Snapshot().Turns != 1 || len(f.gen.Calls()) != 0 {
		t.Error("speaking a suggestion must not start a turn")
	}
	statuses := f.notes.Texts("Status")
	if len(statuses) != 2 || statuses[0] != session.StatusReadingAloud || statuses[1] != session.StatusReady {
		t.Errorf("statuses = %q", statuses)
	}
	if err := f.session.SpeakSuggestion(context.Background(), " "); !errors.Is(err, session.ErrEmptyText) {
		t.Errorf("empty err = %v", err)
	}

	t.Run("stops listening first", func(t *testing.T) {
		if err := f.session.StartListening(); err != nil {
			t.Fatal(err)
		}
		if err := f.session.SpeakSuggestion(context.Background(), "My day is going well."); err != nil {
			t.Fatal(err)
		}
		if f.capture.Listening() || f.session.State() != session.StateIdle {
			t.Error("expected capture stopped and idle")
		}
	})
}

func TestListening(t *testing.T) {
	f := newFixture(t)
	f.begin(t)

	if err := f.session.ToggleListening(); err != nil {
		t.Fatal(err)
	}
	snap := f.session.Snapshot()
	if snap.State != session.StateListening || !snap.Listening || !f.capture.Listening() {
		t.Fatalf("snapshot = %+v", snap)
	}
	if err := f.session.StartListening(); err != nil {
		t.Errorf("second StartListening err = %v", err)
	}

	if err := f.session.ToggleListening(); err != nil {
		t.Fatal(err)
	}
	if f.session.State() != session.StateIdle || f.capture.Listening() {
		t.Error("expected stopped")
	}
	f.session.StopListening()
	if f.session.State() != session.StateIdle {
		t.Error("StopListening should be idempotent")
	}
}

func TestStartListeningWhileSpeaking(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.speaker.SpeakFunc = func(ctx context.Context, text string) { <-release }

	go f.session.Begin(context.Background())
	waitFor(t, "welcome", func() bool { return f.session.State() == session.StateSpeaking })

	if err := f.session.StartListening(); !errors.Is(err, session.ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	close(release)
	waitFor(t, "idle", func() bool { return f.session.State() == session.StateIdle })
}

func TestMicEnabled(t *testing.T) {
	f := newFixture(t)
	f.begin(t)
	_ = f.session.StartListening()

	if f.session.ToggleMic() {
		t.Fatal("ToggleMic should turn the mic off")
	}
	snap := f.session.Snapshot()
	if snap.MicEnabled || snap.Listening || snap.State != session.StateIdle {
		t.Errorf("snapshot = %+v", snap)
	}
	if f.capture.Listening() {
		t.Error("capture still listening")
	}
	if lastStatus(f.notes) != session.StatusMicDisabled {
		t.Errorf("status = %q", lastStatus(f.notes))
	}

	if err := f.session.StartListening(); !errors.Is(err, session.ErrMicDisabled) {
		t.Errorf("err = %v", err)
	}
	if lastStatus(f.notes) != session.StatusMicOff {
		t.Errorf("status = %q", lastStatus(f.notes))
	}

	f.session.SetMicEnabled(true)
	if f.session.State() != session.StateIdle || f.capture.Listening() {
		t.Error("re-enabling must not resume listening")
	}
	if lastStatus(f.notes) != session.StatusReady {
		t.Errorf("status = %q", lastStatus(f.notes))
	}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func TestImage(t *testing.T) {
	f := newFixture(t)

	if err := f.session.AttachImage(pngHeader, ""); err != nil {
		t.Fatal(err)
	}
	if lastStatus(f.notes) != session.StatusImageAttached || !f.session.Snapshot().HasImage {
		t.Error("expected image attached")
	}

	_ = f.session.HandleUserSpeech(context.Background(), "What is this?")
	_ = f.session.HandleUserSpeech(context.Background(), "And the color?")
	for i, c := range f.gen.Calls() {
		if c.Image == nil || c.Image.MIMEType != "image/png" {
			t.Errorf("turn %d: image = %+v", i, c.Image)
		}
	}

	f.session.RemoveImage()
	_ = f.session.HandleUserSpeech(context.Background(), "Thanks")
	calls := f.gen.Calls()
	if calls[len(calls)-1].Image != nil {
		t.Error("image should be gone after RemoveImage")
	}

	t.Run("rejections", func(t *testing.T) {
		small := newFixture(t, session.WithMaxImageSize(8))
		if err := small.session.AttachImage(pngHeader, "image/png"); !errors.Is(err, conversation.ErrImageTooLarge) {
			t.Errorf("err = %v", err)
		}
		if err := f.session.AttachImage([]byte("plain text"), "text/plain"); !errors.Is(err, conversation.ErrNotAnImage) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	f.begin(t)
	_ = f.session.AttachImage(pngHeader, "image/png")
	_ = f.session.HandleUserSpeech(context.Background(), "hello")

	if err := f.session.Reset(); err != nil {
		t.Fatal(err)
	}
	snap := f.session.Snapshot()
	if snap.Turns != 0 || snap.HasImage || snap.Started || snap.State != session.StateIdle {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(f.session.Suggestions()) != 0 || f.session.Transcript() != "" {
		t.Error("expected an empty conversation")
	}

	f.begin(t)
	if f.session.Snapshot().Turns != 1 {
		t.Error("Begin after Reset should welcome again")
	}
}

func TestTranscript(t *testing.T) {
	f := newFixture(t)
	f.begin(t)
	_ = f.session.HandleUserSpeech(context.Background(), "I went to the park")

	want := "AI: " + conversation.WelcomeMessage + "\n\nMe: I went to the park\n\nAI: " + testReply.Text
	if got := f.session.Transcript(); got != want {
		t.Errorf("transcript:\n%s\nwant:\n%s", got, want)
	}
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	f.begin(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.session.Run(ctx) }()

	if err := f.session.StartListening(); err != nil {
		t.Fatal(err)
	}
	rec := f.platform.Current()
	rec.Interim("I went")
	rec.Final("I went to the park")

	waitFor(t, "turn", func() bool {
		return len(f.gen.Calls()) == 1 && !f.session.Snapshot().Processing
	})
	waitFor(t, "idle", func() bool { return f.session.State() == session.StateIdle })

	if got := f.notes.Texts("Interim"); len(got) != 1 || got[0] != "I went" {
		t.Errorf("interim = %q", got)
	}
	if indexOf(f.notes.Texts("Status"), `Listening: "I went"`, 0) < 0 {
		t.Error("expected listening status")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v", err)
	}
}

func TestCaptureErrors(t *testing.T) {
	tests := []struct {
		code    string
		err     string // expected ShowError text, empty for none
		status  string // expected status, empty to skip
		blocked bool
	}{
		{code: "not-allowed", err: session.MsgPermissionBlocked, blocked: true},
		{code: "no-speech", status: session.StatusNoSpeech},
		{code: "audio-capture", err: session.MsgDeviceUnavailable},
		{code: "network", err: session.MsgNetwork},
		{code: "bad-grammar", err: "Error: bad-grammar. Please try again."},
		{code: "aborted"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			f := newFixture(t)
			f.begin(t)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go f.session.Run(ctx)

			if err := f.session.StartListening(); err != nil {
				t.Fatal(err)
			}
			f.notes.Reset()
			f.platform.Current().Fail(tt.code)

			// The capture always reports stopped after an error.
			waitFor(t, "stopped", func() bool {
				return indexOf(f.notes.Texts("Status"), session.StatusReady, 0) >= 0
			})

			errs := f.notes.Texts("ShowError")
			if tt.err == "" && len(errs) != 0 {
				t.Errorf("unexpected errors %q", errs)
			}
			if tt.err != "" && (len(errs) != 1 || errs[0] != tt.err) {
				t.Errorf("errors = %q, want %q", errs, tt.err)
			}
			if tt.status != "" && indexOf(f.notes.Texts("Status"), tt.status, 0) < 0 {
				t.Errorf("statuses = %q, want %q", f.notes.Texts("Status"), tt.status)
			}

			snap := f.session.Snapshot()
			if snap.State != session.StateIdle || snap.Listening {
				t.Errorf("snapshot = %+v", snap)
			}
			if snap.PermissionBlocked != tt.blocked {
				t.Errorf("blocked = %v, want %v", snap.PermissionBlocked, tt.blocked)
			}
		})
	}
}

func conversationLast(s *session.Session) (conversation.Turn, bool) {
	turns := s.History()
	if len(turns) == 0 {
		return conversation.Turn{}, false
	}
	return turns[len(turns)-1], true
}
