package voice

import (
	"context"
	"sync"
	"time"
)

// MockSynth implements Synthesizer for testing.
// By default each utterance lasts Duration unless cancelled first.
type MockSynth struct {
	// SayFunc, if set, replaces the default timed utterance.
	SayFunc func(ctx context.Context, u Utterance) error

	// VoiceList is returned by Voices.
	VoiceList []Voice

	// VoicesErr, if set, is returned by Voices.
	VoicesErr error

	// Duration is how long an utterance lasts by default.
	Duration time.Duration

	mu      sync.Mutex
	said    []Utterance
	cancels int
	stop    chan struct{}
}

// NewMockSynth creates a mock whose utterances last d.
func NewMockSynth(d time.Duration, voices ...Voice) *MockSynth {
	return &MockSynth{Duration: d, VoiceList: voices}
}

// Voices returns VoiceList.
func (m *MockSynth) Voices(ctx context.Context) ([]Voice, error) {
	if m.VoicesErr != nil {
		return nil, m.VoicesErr
	}
	return m.VoiceList, nil
}

// Say records u and blocks for Duration, until Cancel, or until ctx is done.
func (m *MockSynth) Say(ctx context.Context, u Utterance) error {
	m.mu.Lock()
	m.said = append(m.said, u)
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	if m.SayFunc != nil {
		return m.SayFunc(ctx, u)
	}

	select {
	case <-time.After(m.Duration):
		return nil
	case <-stop:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel interrupts the current utterance.
func (m *MockSynth) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Said returns the recorded utterances.
func (m *MockSynth) Said() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Utterance, len(m.said))
	copy(out, m.said)
	return out
}

// CancelCount returns how many times Cancel was called.
func (m *MockSynth) CancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

// Verify MockSynth implements Synthesizer at compile time.
var _ Synthesizer = (*MockSynth)(nil)
