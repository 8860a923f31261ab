package conversation_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/teslashibe/go-talkback/pkg/conversation"
)

func TestHistoryRecent(t *testing.T) {
	h := conversation.NewHistory()
	for i := 0; i < 9; i++ {
		h.Append(conversation.UserTurn(fmt.Sprintf("turn %d", i)))
	}

	t.Run("bounded to k, oldest first", func(t *testing.T) {
		got := h.Recent(conversation.DefaultContextTurns)
		if len(got) != 6 {
			t.Fatalf("len = %d, want 6", len(got))
		}
		if got[0].Text != "turn 3" || got[5].Text != "turn 8" {
			t.Errorf("window = %q..%q, want turn 3..turn 8", got[0].Text, got[5].Text)
		}
	})

	t.Run("k larger than history", func(t *testing.T) {
		if got := h.Recent(100); len(got) != 9 {
			t.Errorf("len = %d, want 9", len(got))
		}
	})

	t.Run("non-positive k", func(t *testing.T) {
		if got := h.Recent(0); got != nil {
			t.Errorf("Recent(0) = %v, want nil", got)
		}
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		got := h.Recent(2)
		got[0].Text = "mutated"
		if h.Recent(2)[0].Text == "mutated" {
			t.Error("Recent leaked internal storage")
		}
	})
}

func TestHistoryAppendOrder(t *testing.T) {
	h := conversation.NewHistory()
	h.Append(conversation.AssistantTurn("welcome"))
	h.Append(conversation.UserTurn("hello"))
	h.Append(conversation.AssistantTurn("hi!"))

	turns := h.Turns()
	want := []conversation.Turn{
		{Role: conversation.RoleAssistant, Text: "welcome"},
		{Role: conversation.RoleUser, Text: "hello"},
		{Role: conversation.RoleAssistant, Text: "hi!"},
	}
	if len(turns) != len(want) {
		t.Fatalf("len = %d, want %d", len(turns), len(want))
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, turns[i], want[i])
		}
	}

	last, ok := h.Last()
	if !ok || last.Text != "hi!" {
		t.Errorf("Last() = %+v, %v", last, ok)
	}

	h.Reset()
	if h.Len() != 0 {
		t.Error("Reset should empty the history")
	}
}

func TestTranscript(t *testing.T) {
	h := conversation.NewHistory()
	h.Append(conversation.AssistantTurn("How are you?"))
	h.Append(conversation.UserTurn("Great, thanks."))

	want := "AI: How are you?\n\nMe: Great, thanks."
	if got := h.Transcript(); got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}

	if got := conversation.Transcript(nil); got != "" {
		t.Errorf("empty transcript = %q", got)
	}
}

func TestNewImage(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

	t.Run("sniffs mime type", func(t *testing.T) {
		img, err := conversation.NewImage(png, "", 0)
		if err != nil {
			t.Fatalf("NewImage: %v", err)
		}
		if img.MIMEType != "image/png" {
			t.Errorf("MIMEType = %q, want image/png", img.MIMEType)
		}
		if img.Base64() == "" {
			t.Error("expected base64 payload")
		}
	})

	t.Run("keeps explicit mime type", func(t *testing.T) {
		img, err := conversation.NewImage([]byte{1, 2, 3}, "image/jpeg; q=1", 0)
		if err != nil {
			t.Fatalf("NewImage: %v", err)
		}
		if img.MIMEType != "image/jpeg" {
			t.Errorf("MIMEType = %q", img.MIMEType)
		}
	})

	t.Run("rejects empty", func(t *testing.T) {
		if _, err := conversation.NewImage(nil, "image/png", 0); !errors.Is(err, conversation.ErrEmptyImage) {
			t.Errorf("err = %v, want ErrEmptyImage", err)
		}
	})

	t.Run("rejects oversized", func(t *testing.T) {
		_, err := conversation.NewImage(png, "image/png", 8)
		if !errors.Is(err, conversation.ErrImageTooLarge) {
			t.Errorf("err = %v, want ErrImageTooLarge", err)
		}
	})

	t.Run("rejects non-images", func(t *testing.T) {
		_, err := conversation.NewImage([]byte("just some text"), "", 0)
		if !errors.Is(err, conversation.ErrNotAnImage) {
			t.Errorf("err = %v, want ErrNotAnImage", err)
		}
	})
}

func TestWelcomeSuggestions(t *testing.T) {
	s := conversation.WelcomeSuggestions()
	if len(s) != 3 {
		t.Fatalf("len = %d, want 3", len(s))
	}
	for i, lvl := range conversation.Levels {
		if s[i].Level != lvl {
			t.Errorf("suggestion %d level = %s, want %s", i, s[i].Level, lvl)
		}
		if !s[i].Level.Valid() {
			t.Errorf("suggestion %d has invalid level", i)
		}
	}
	if conversation.Level("expert").Valid() {
		t.Error("unknown level should be invalid")
	}
}
