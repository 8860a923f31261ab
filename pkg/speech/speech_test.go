package speech_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-talkback/pkg/speech"
)

// drain returns every event currently buffered.
func drain(c *speech.Capture) []speech.Event {
	var out []speech.Event
	for {
		select {
		case e := <-c.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func states(events []speech.Event) []speech.State {
	var out []speech.State
	for _, e := range events {
		if e.Kind == speech.EventState {
			out = append(out, e.State)
		}
	}
	return out
}

func TestMapError(t *testing.T) {
	tests := []struct {
		code string
		want speech.ErrorKind
	}{
		{"not-allowed", speech.KindPermissionDenied},
		{"service-not-allowed", speech.KindPermissionDenied},
		{"no-speech", speech.KindNoSpeech},
		{"audio-capture", speech.KindDeviceUnavailable},
		{"network", speech.KindNetwork},
		{"aborted", speech.KindUserAborted},
		{"language-not-supported", speech.KindOther},
		{"", speech.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := speech.MapError(tt.code); got != tt.want {
				t.Errorf("MapError(%q) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	s := speech.DefaultSettings("")
	if s.Locale != "en-US" || s.Continuous || !s.InterimResults || s.MaxAlternatives != 1 {
		t.Errorf("unexpected settings %+v", s)
	}
}

func TestRequestPermission(t *testing.T) {
	t.Run("grant is remembered", func(t *testing.T) {
		p := speech.NewMockPlatform()
		c := speech.New(p)
		if !c.RequestPermission(context.Background()) || !c.RequestPermission(context.Background()) {
			t.Fatal("expected grant")
		}
		if p.PermissionAsks() != 1 {
			t.Errorf("asked %d times, want 1", p.PermissionAsks())
		}
	})

	t.Run("denial is not cached", func(t *testing.T) {
		p := speech.NewMockPlatform()
		grant := false
		p.PermissionFunc = func(ctx context.Context) (bool, error) { return grant, nil }
		c := speech.New(p)

		if c.RequestPermission(context.Background()) {
			t.Fatal("expected denial")
		}
		grant = true
		if !c.RequestPermission(context.Background()) {
			t.Fatal("expected later grant")
		}
		if p.PermissionAsks() != 2 {
			t.Errorf("asked %d times, want 2", p.PermissionAsks())
		}
	})

	t.Run("platform error is a denial", func(t *testing.T) {
		p := speech.NewMockPlatform()
		p.PermissionFunc = func(ctx context.Context) (bool, error) { return false, errors.New("dialog closed") }
		if speech.New(p).RequestPermission(context.Background()) {
			t.Error("expected denial")
		}
	})
}

func TestInitialize(t *testing.T) {
	t.Run("settings", func(t *testing.T) {
		p := speech.NewMockPlatform()
		c := speech.New(p, speech.WithLocale("en-GB"))
		if !c.Initialize() {
			t.Fatal("Initialize failed")
		}
		s := p.Current().Settings
		if s.Locale != "en-GB" || s.Continuous || !s.InterimResults || s.MaxAlternatives != 1 {
			t.Errorf("unexpected settings %+v", s)
		}
	})

	t.Run("rebuild aborts the old recognizer", func(t *testing.T) {
		p := speech.NewMockPlatform()
		c := speech.New(p)
		c.Initialize()
		first := p.Current()
		c.Initialize()
		if _, _, aborts := first.Counts(); aborts != 1 {
			t.Errorf("old recognizer aborts = %d", aborts)
		}
		if len(p.Recognizers()) != 2 {
			t.Errorf("expected 2 recognizers")
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		p := speech.NewMockPlatform()
		p.Unsupported = true
		c := speech.New(p)
		if c.Initialize() || c.Supported() {
			t.Error("expected unsupported")
		}
		if err := c.Start(); !errors.Is(err, speech.ErrUnsupported) {
			t.Errorf("Start err = %v", err)
		}
	})
}

func TestStartStop(t *testing.T) {
	p := speech.NewMockPlatform()
	c := speech.New(p)

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Listening() {
		t.Error("expected listening")
	}
	// Already listening: no-op.
	if err := c.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if starts, _, _ := p.Current().Counts(); starts != 1 {
		t.Errorf("starts = %d, want 1", starts)
	}

	c.Stop()
	c.Stop()
	if c.Listening() {
		t.Error("expected stopped")
	}
	if _, stops, _ := p.Current().Counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}

	got := states(drain(c))
	want := []speech.State{speech.StateListening, speech.StateStopped}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestStartRetriesInvalidState(t *testing.T) {
	p := speech.NewMockPlatform()
	p.StartErrs = []error{speech.ErrInvalidState}
	c := speech.New(p, speech.WithRetryDelay(10*time.Millisecond))

	start := time.Now()
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("expected retry delay")
	}
	if len(p.Recognizers()) != 2 {
		t.Errorf("expected a rebuilt recognizer, got %d", len(p.Recognizers()))
	}
	if !c.Listening() {
		t.Error("expected listening after retry")
	}
}

func TestStartOtherError(t *testing.T) {
	p := speech.NewMockPlatform()
	boom := errors.New("boom")
	p.StartErrs = []error{boom}
	c := speech.New(p)

	if err := c.Start(); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if c.Listening() {
		t.Error("should not be listening")
	}
}

func TestSetEnabled(t *testing.T) {
	p := speech.NewMockPlatform()
	c := speech.New(p)
	_ = c.Start()

	c.SetEnabled(false)
	if c.Listening() {
		t.Error("disabling should stop listening")
	}
	if err := c.Start(); err != nil || c.Listening() {
		t.Error("Start while disabled should be a no-op")
	}

	c.SetEnabled(true)
	if c.Listening() {
		t.Error("enabling must not resume listening")
	}
}

func TestResults(t *testing.T) {
	p := speech.NewMockPlatform()
	c := speech.New(p)
	_ = c.Start()
	drain(c)

	r := p.Current()
	r.Interim("I went")
	r.Interim("I went to")
	r.Final("I went to the park")

	events := drain(c)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != speech.EventInterim || events[1].Text != "I went to" {
		t.Errorf("unexpected interim events %+v", events[:2])
	}
	if events[2].Kind != speech.EventFinal || events[2].Text != "I went to the park" {
		t.Errorf("unexpected final %+v", events[2])
	}
	if events[3].Kind != speech.EventState || events[3].State != speech.StateStopped {
		t.Errorf("expected stopped, got %+v", events[3])
	}
	if c.Listening() {
		t.Error("end of utterance should stop listening")
	}
}

func TestErrorEvents(t *testing.T) {
	p := speech.NewMockPlatform()
	c := speech.New(p)
	c.RequestPermission(context.Background())
	_ = c.Start()
	drain(c)

	p.Current().Fail("not-allowed")

	events := drain(c)
	if len(events) != 3 {
		t.Fatalf("expected error, error state, stopped; got %+v", events)
	}
	if events[0].Kind != speech.EventError || events[0].Error != speech.KindPermissionDenied || events[0].Code != "not-allowed" {
		t.Errorf("unexpected error event %+v", events[0])
	}
	if got := states(events); got[0] != speech.StateError || got[1] != speech.StateStopped {
		t.Errorf("states = %v", got)
	}

	// A denied mic must be asked for again.
	c.RequestPermission(context.Background())
	if p.PermissionAsks() != 2 {
		t.Errorf("permission should be re-requested after not-allowed")
	}

	// The next session reports its own end normally.
	_ = c.Start()
	c.Stop()
	if got := states(drain(c)); len(got) != 2 || got[1] != speech.StateStopped {
		t.Errorf("states = %v", got)
	}
}

func TestStaleRecognizerIgnored(t *testing.T) {
	p := speech.NewMockPlatform()
	c := speech.New(p)
	c.Initialize()
	old := p.Current()
	c.Initialize()
	drain(c)

	old.Interim("ghost")
	if events := drain(c); len(events) != 0 {
		t.Errorf("stale recognizer produced %+v", events)
	}
}

func TestClose(t *testing.T) {
	p := speech.NewMockPlatform()
	c := speech.New(p)
	_ = c.Start()
	r := p.Current()

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, aborts := r.Counts(); aborts != 1 {
		t.Errorf("aborts = %d", aborts)
	}
	if err := c.Start(); !errors.Is(err, speech.ErrClosed) {
		t.Errorf("Start after Close = %v", err)
	}
	for range c.Events() {
	}
	_ = c.Close()
}

func TestConsole(t *testing.T) {
	console := speech.NewConsole()
	c := speech.New(console)

	if console.Feed("too early") {
		t.Error("Feed without a recognizer should fail")
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if !console.Listening() {
		t.Error("console should be listening")
	}
	if !console.Feed("  hello there  ") {
		t.Fatal("Feed failed")
	}
	if console.Feed("again") {
		t.Error("recognizer is non-continuous")
	}

	events := drain(c)
	var final string
	for _, e := range events {
		if e.Kind == speech.EventFinal {
			final = e.Text
		}
	}
	if final != "hello there" {
		t.Errorf("final = %q", final)
	}

	_ = c.Start()
	console.Feed("   ")
	var kind speech.ErrorKind
	for _, e := range drain(c) {
		if e.Kind == speech.EventError {
			kind = e.Error
		}
	}
	if kind != speech.KindNoSpeech {
		t.Errorf("blank line should be no-speech, got %q", kind)
	}
}
