package speech

import (
	"context"
	"strings"
	"sync"
)

// Console is a Platform for terminals: typed lines stand in for speech.
// Permission is always granted.
type Console struct {
	mu  sync.Mutex
	cur *consoleRecognizer
}

// NewConsole creates a console platform.
func NewConsole() *Console {
	return &Console{}
}

// Supported always returns true.
func (c *Console) Supported() bool { return true }

// RequestPermission always grants.
func (c *Console) RequestPermission(ctx context.Context) (bool, error) {
	return true, ctx.Err()
}

// NewRecognizer creates a recognizer fed by Feed.
func (c *Console) NewRecognizer(s Settings, sink Sink) (Recognizer, error) {
	r := &consoleRecognizer{sink: sink}
	c.mu.Lock()
	c.cur = r
	c.mu.Unlock()
	return r, nil
}

// Feed delivers a typed line as a final result. It returns false when no
// recognizer is listening.
func (c *Console) Feed(line string) bool {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return false
	}
	return r.feed(line)
}

// Listening reports whether the current recognizer is running.
func (c *Console) Listening() bool {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

type consoleRecognizer struct {
	sink Sink

	mu      sync.Mutex
	running bool
}

func (r *consoleRecognizer) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrInvalidState
	}
	r.running = true
	r.mu.Unlock()

	r.sink(Signal{Kind: SignalStart})
	return nil
}

func (r *consoleRecognizer) Stop() { r.end() }

func (r *consoleRecognizer) Abort() { r.end() }

func (r *consoleRecognizer) end() {
	r.mu.Lock()
	was := r.running
	r.running = false
	r.mu.Unlock()

	if was {
		r.sink(Signal{Kind: SignalEnd})
	}
}

func (r *consoleRecognizer) feed(line string) bool {
	line = strings.TrimSpace(line)

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	r.running = false
	r.mu.Unlock()

	if line == "" {
		r.sink(Signal{Kind: SignalError, Code: "no-speech"})
	} else {
		r.sink(Signal{Kind: SignalResult, Text: line, Final: true})
	}
	r.sink(Signal{Kind: SignalEnd})
	return true
}

// Verify Console implements Platform at compile time.
var _ Platform = (*Console)(nil)
