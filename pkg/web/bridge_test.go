package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-talkback/pkg/audio"
	"github.com/teslashibe/go-talkback/pkg/conversation"
	"github.com/teslashibe/go-talkback/pkg/credential"
	"github.com/teslashibe/go-talkback/pkg/hub"
	"github.com/teslashibe/go-talkback/pkg/session"
	"github.com/teslashibe/go-talkback/pkg/speech"
	"github.com/teslashibe/go-talkback/pkg/voice"
)

// fakeBrowser plays the page's part of the /ws/session protocol.
type fakeBrowser struct {
	conn   *websocket.Conn
	frames chan Envelope

	mu        sync.Mutex
	grant     bool
	utterance string // spoken after recognizer.start
	voices    []voice.Voice
	holdAudio bool   // never report audio.ended
	silent    bool   // never answer anything
	hangUpOn  string // close the connection on this frame type
}

func (b *fakeBrowser) write(env Envelope) {
	data, _ := json.Marshal(env)
	_ = b.conn.WriteMessage(websocket.TextMessage, data)
}

// run answers requests until the connection closes. It is the only writer.
func (b *fakeBrowser) run() {
	defer close(b.frames)
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		b.mu.Lock()
		grant, utterance, voices, hold := b.grant, b.utterance, b.voices, b.holdAudio
		silent, hangUpOn := b.silent, b.hangUpOn
		b.mu.Unlock()

		if env.Type == hangUpOn {
			b.frames <- env
			b.conn.Close()
			return
		}
		if silent {
			b.frames <- env
			continue
		}

		switch env.Type {
		case TypePermissionReq:
			b.write(Envelope{Type: TypePermissionResult, ID: env.ID, Granted: grant})
		case TypeRecognizerStart:
			b.write(Envelope{Type: TypeRecognizerStart, ID: env.ID})
			if utterance != "" {
				b.write(Envelope{Type: TypeRecognizerResult, ID: env.ID, Text: utterance[:len(utterance)/2]})
				b.write(Envelope{Type: TypeRecognizerResult, ID: env.ID, Text: utterance, Final: true})
				b.write(Envelope{Type: TypeRecognizerEnd, ID: env.ID})
			}
		case TypeRecognizerStop:
			b.write(Envelope{Type: TypeRecognizerEnd, ID: env.ID})
		case TypeSpeechSay:
			b.write(Envelope{Type: TypeSpeechEnded, ID: env.ID})
		case TypeAudioPlay:
			if !hold {
				b.write(Envelope{Type: TypeAudioEnded, ID: env.ID})
			}
		case TypeVoicesRequest:
			b.write(Envelope{Type: TypeVoicesResult, ID: env.ID, Voices: voices})
		}

		b.frames <- env
	}
}

// next waits for the next frame of type typ that satisfies match.
func (b *fakeBrowser) next(t *testing.T, typ string, match func(Envelope) bool) Envelope {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-b.frames:
			if !ok {
				t.Fatalf("connection closed waiting for %s", typ)
			}
			if env.Type == typ && (match == nil || match(env)) {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

type liveFixture struct {
	bridge  *Bridge
	session *session.Session
	gen     *stubGenerator
	browser *fakeBrowser
	addr    string
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	h := hub.New("session")
	bridge := NewBridge(h, nil)
	capture := speech.New(bridge)
	output := voice.New(voice.WithPlayer(bridge), voice.WithLocal(bridge))
	gen := &stubGenerator{}
	sess := session.New(capture, gen, output, session.WithNotifier(bridge))
	srv := NewServer(Config{StaticDir: ""}, h, bridge, sess, credential.NewMemoryStore(""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
	})

	addr := ln.Addr().String()
	var conn *websocket.Conn
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/ws/session", nil)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	browser := &fakeBrowser{
		conn:   conn,
		frames: make(chan Envelope, 256),
		grant:  true,
		voices: []voice.Voice{{Name: "Google US English", Lang: "en-US"}},
	}
	go browser.run()

	waitUntil(t, "browser registered", bridge.Connected)
	return &liveFixture{bridge: bridge, session: sess, gen: gen, browser: browser, addr: addr}
}

func (f *liveFixture) post(t *testing.T, path string) int {
	t.Helper()
	resp, err := http.Post("http://"+f.addr+path, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestBridgeGreetsNewBrowser(t *testing.T) {
	f := newLiveFixture(t)
	env := f.browser.next(t, TypeState, nil)
	if env.State == nil || env.State.State != session.StateIdle || !env.State.MicEnabled {
		t.Errorf("greeting state = %+v", env.State)
	}
	f.browser.next(t, TypeStatus, func(e Envelope) bool { return e.Text == session.StatusReady })
}

func TestBridgeConversation(t *testing.T) {
	f := newLiveFixture(t)

	if code := f.post(t, "/api/begin"); code != http.StatusAccepted {
		t.Fatalf("begin = %d", code)
	}
	f.browser.next(t, TypePermissionReq, nil)
	init := f.browser.next(t, TypeRecognizerInit, nil)
	if init.Settings == nil || init.Locale != "en-US" || !init.InterimResults || init.Continuous {
		t.Errorf("recognizer settings = %+v", init.Settings)
	}

	// No remote voice: the welcome goes to the browser's own synthesizer.
	say := f.browser.next(t, TypeSpeechSay, nil)
	if say.Text != conversation.WelcomeMessage || say.Voice != "Google US English" || say.Lang != "en-US" {
		t.Errorf("welcome utterance = %+v", say)
	}
	sugg := f.browser.next(t, TypeSuggestions, nil)
	if len(sugg.Suggestions) != 3 {
		t.Errorf("welcome suggestions = %+v", sugg.Suggestions)
	}
	waitUntil(t, "idle after welcome", func() bool { return f.session.State() == session.StateIdle })

	f.browser.mu.Lock()
	f.browser.utterance = "I went to the park"
	f.browser.mu.Unlock()

	if code := f.post(t, "/api/listen"); code != http.StatusOK {
		t.Fatalf("listen = %d", code)
	}
	f.browser.next(t, TypeInterim, func(e Envelope) bool { return e.Text == "I went to" })
	reply := f.browser.next(t, TypeSpeechSay, nil)
	if reply.Text != "Great! Tell me more." {
		t.Errorf("reply utterance = %q", reply.Text)
	}
	f.browser.next(t, TypeSuggestions, func(e Envelope) bool { return len(e.Suggestions) == 1 })

	waitUntil(t, "turn done", func() bool {
		s := f.session.Snapshot()
		return !s.Processing && s.State == session.StateIdle && s.Turns == 3
	})
	if texts := f.gen.Texts(); len(texts) != 1 || texts[0] != "I went to the park" {
		t.Errorf("generated for %q", texts)
	}
}

func TestBridgePermissionDenied(t *testing.T) {
	f := newLiveFixture(t)
	f.browser.mu.Lock()
	f.browser.grant = false
	f.browser.mu.Unlock()

	ok, err := f.bridge.RequestPermission(context.Background())
	if err != nil || ok {
		t.Fatalf("RequestPermission = %v, %v", ok, err)
	}
}

func TestBridgePlayback(t *testing.T) {
	f := newLiveFixture(t)
	clip := &audio.Clip{Data: []byte("ID3fake"), MIMEType: audio.MIMEMP3}

	if err := f.bridge.Play(context.Background(), clip); err != nil {
		t.Fatalf("Play: %v", err)
	}
	env := f.browser.next(t, TypeAudioPlay, nil)
	if env.MIME != audio.MIMEMP3 || env.Data != "SUQzZmFrZQ==" {
		t.Errorf("audio.play = %+v", env)
	}

	t.Run("stop interrupts", func(t *testing.T) {
		f.browser.mu.Lock()
		f.browser.holdAudio = true
		f.browser.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- f.bridge.Play(context.Background(), clip) }()
		waitUntil(t, "playing", f.bridge.IsPlaying)

		f.bridge.Stop()
		if err := <-done; !errors.Is(err, audio.ErrStopped) {
			t.Errorf("err = %v, want ErrStopped", err)
		}
		f.browser.next(t, TypeAudioStop, nil)
	})

	t.Run("context bounds the round trip", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		if err := f.bridge.Play(ctx, clip); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want DeadlineExceeded", err)
		}
	})
}

func TestBridgeVoices(t *testing.T) {
	f := newLiveFixture(t)
	voices, err := f.bridge.Voices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != 1 || voices[0].Lang != "en-US" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestBridgeWithoutBrowser(t *testing.T) {
	b := NewBridge(hub.New("idle"), nil)

	if _, err := b.RequestPermission(context.Background()); !errors.Is(err, ErrNoBrowser) {
		t.Errorf("RequestPermission err = %v", err)
	}
	if err := b.Play(context.Background(), &audio.Clip{Data: []byte{1}, MIMEType: audio.MIMEWAV}); !errors.Is(err, audio.ErrNoPlayer) {
		t.Errorf("Play err = %v", err)
	}
	if err := b.Say(context.Background(), voice.Utterance{Text: "hi"}); !errors.Is(err, voice.ErrNoSynthesizer) {
		t.Errorf("Say err = %v", err)
	}
	if !b.Supported() {
		t.Error("recognition is assumed until the browser says otherwise")
	}
}

func TestBridgeBrowserLeavesMidTurn(t *testing.T) {
	f := newLiveFixture(t)
	f.browser.mu.Lock()
	f.browser.hangUpOn = TypeVoicesRequest
	f.browser.mu.Unlock()

	resp, err := http.Post("http://"+f.addr+"/api/say", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("say = %d", resp.StatusCode)
	}

	waitUntil(t, "browser gone", func() bool { return !f.bridge.Connected() })
	waitUntil(t, "turn released", func() bool {
		s := f.session.Snapshot()
		return !s.Processing && s.State == session.StateIdle
	})
	if texts := f.gen.Texts(); len(texts) != 1 || texts[0] != "hello" {
		t.Errorf("generated for %q", texts)
	}
	if err := f.session.Reset(); err != nil {
		t.Errorf("Reset after disconnect: %v", err)
	}
}

func TestBridgeBrowserLeavesWhileListening(t *testing.T) {
	f := newLiveFixture(t)
	if code := f.post(t, "/api/begin"); code != http.StatusAccepted {
		t.Fatalf("begin = %d", code)
	}
	waitUntil(t, "idle after welcome", func() bool {
		s := f.session.Snapshot()
		return s.Started && !s.Speaking && s.State == session.StateIdle
	})

	if code := f.post(t, "/api/listen"); code != http.StatusOK {
		t.Fatalf("listen = %d", code)
	}
	waitUntil(t, "listening", func() bool { return f.session.Snapshot().Listening })

	f.browser.conn.Close()
	waitUntil(t, "listening ended", func() bool {
		s := f.session.Snapshot()
		return !s.Listening && s.State != session.StateListening
	})
}

func TestBridgeRoundTripTimeout(t *testing.T) {
	f := newLiveFixture(t)
	f.browser.mu.Lock()
	f.browser.silent = true
	f.browser.mu.Unlock()
	f.bridge.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	if _, err := f.bridge.Voices(context.Background()); !errors.Is(err, ErrBrowserTimeout) {
		t.Fatalf("Voices err = %v, want ErrBrowserTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timed out after %s", elapsed)
	}

	clip := &audio.Clip{Data: []byte("ID3fake"), MIMEType: audio.MIMEMP3}
	if err := f.bridge.Play(context.Background(), clip); !errors.Is(err, ErrBrowserTimeout) {
		t.Errorf("Play err = %v, want ErrBrowserTimeout", err)
	}
	if f.bridge.IsPlaying() {
		t.Error("still playing after timeout")
	}
}
