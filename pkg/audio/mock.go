package audio

import (
	"context"
	"sync"
	"time"
)

// MockPlayer implements Player for testing.
// By default each clip "plays" for Duration unless stopped first.
type MockPlayer struct {
	// PlayFunc, if set, replaces the default timed playback.
	PlayFunc func(ctx context.Context, clip *Clip) error

	// Duration is how long a clip plays by default.
	Duration time.Duration

	mu        sync.Mutex
	clips     []*Clip
	stops     int
	active    int
	maxActive int
	cur       *mockPlayback
}

type mockPlayback struct {
	stop chan struct{}
	done chan struct{}
}

// NewMockPlayer creates a mock whose clips play for d.
func NewMockPlayer(d time.Duration) *MockPlayer {
	return &MockPlayer{Duration: d}
}

// Play records the clip and blocks for Duration, until Stop, or until ctx is done.
func (m *MockPlayer) Play(ctx context.Context, clip *Clip) error {
	m.Stop()

	m.mu.Lock()
	m.clips = append(m.clips, clip)
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	pb := &mockPlayback{stop: make(chan struct{}), done: make(chan struct{})}
	m.cur = pb
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		if m.cur == pb {
			m.cur = nil
		}
		m.mu.Unlock()
		close(pb.done)
	}()

	if m.PlayFunc != nil {
		return m.PlayFunc(ctx, clip)
	}

	select {
	case <-time.After(m.Duration):
		return nil
	case <-pb.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop interrupts the current clip and waits for its Play to return.
func (m *MockPlayer) Stop() {
	m.mu.Lock()
	m.stops++
	pb := m.cur
	m.cur = nil
	m.mu.Unlock()

	if pb != nil {
		close(pb.stop)
		<-pb.done
	}
}

// IsPlaying reports whether a clip is in progress.
func (m *MockPlayer) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active > 0
}

// Clips returns every clip passed to Play.
func (m *MockPlayer) Clips() []*Clip {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Clip, len(m.clips))
	copy(out, m.clips)
	return out
}

// StopCount returns how many times Stop ran, including the implicit stop in Play.
func (m *MockPlayer) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// MaxConcurrent returns the highest number of clips that were ever playing at once.
func (m *MockPlayer) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// Verify MockPlayer implements Player at compile time.
var _ Player = (*MockPlayer)(nil)
