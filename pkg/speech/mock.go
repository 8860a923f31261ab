package speech

import (
	"context"
	"sync"
)

// MockPlatform implements Platform for testing.
type MockPlatform struct {
	// Unsupported makes Supported return false.
	Unsupported bool

	// PermissionFunc answers RequestPermission. If nil, permission is granted.
	PermissionFunc func(ctx context.Context) (bool, error)

	// StartErrs are returned by successive Start calls across recognizers,
	// then Start succeeds.
	StartErrs []error

	mu          sync.Mutex
	recognizers []*MockRecognizer
	asks        int
}

// NewMockPlatform creates a supported platform that grants permission.
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{}
}

// Supported reports !Unsupported.
func (p *MockPlatform) Supported() bool { return !p.Unsupported }

// RequestPermission calls PermissionFunc.
func (p *MockPlatform) RequestPermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	p.asks++
	p.mu.Unlock()
	if p.PermissionFunc != nil {
		return p.PermissionFunc(ctx)
	}
	return true, nil
}

// NewRecognizer records and returns a MockRecognizer.
func (p *MockPlatform) NewRecognizer(s Settings, sink Sink) (Recognizer, error) {
	r := &MockRecognizer{Settings: s, sink: sink, platform: p}
	p.mu.Lock()
	p.recognizers = append(p.recognizers, r)
	p.mu.Unlock()
	return r, nil
}

// Recognizers returns every recognizer built so far.
func (p *MockPlatform) Recognizers() []*MockRecognizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*MockRecognizer, len(p.recognizers))
	copy(out, p.recognizers)
	return out
}

// Current returns the most recent recognizer, or nil.
func (p *MockPlatform) Current() *MockRecognizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.recognizers) == 0 {
		return nil
	}
	return p.recognizers[len(p.recognizers)-1]
}

// PermissionAsks returns how many times permission was requested.
func (p *MockPlatform) PermissionAsks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asks
}

func (p *MockPlatform) nextStartErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StartErrs) == 0 {
		return nil
	}
	err := p.StartErrs[0]
	p.StartErrs = p.StartErrs[1:]
	return err
}

// MockRecognizer is a scripted Recognizer. Start signals SignalStart;
// Stop and Abort signal SignalEnd when running. Tests drive results with
// Interim, Final, Fail and End.
type MockRecognizer struct {
	Settings Settings

	sink     Sink
	platform *MockPlatform

	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	aborts  int
}

// Start begins a session.
func (r *MockRecognizer) Start() error {
	if err := r.platform.nextStartErr(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrInvalidState
	}
	r.running = true
	r.starts++
	r.mu.Unlock()

	r.sink(Signal{Kind: SignalStart})
	return nil
}

// Stop ends the session.
func (r *MockRecognizer) Stop() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	r.End()
}

// Abort ends the session.
func (r *MockRecognizer) Abort() {
	r.mu.Lock()
	r.aborts++
	r.mu.Unlock()
	r.End()
}

// Interim delivers a partial result.
func (r *MockRecognizer) Interim(text string) {
	r.sink(Signal{Kind: SignalResult, Text: text})
}

// Final delivers a final result and ends the session, as a
// non-continuous recognizer does.
func (r *MockRecognizer) Final(text string) {
	r.sink(Signal{Kind: SignalResult, Text: text, Final: true})
	r.End()
}

// Fail delivers an error code followed by the platform's end signal.
func (r *MockRecognizer) Fail(code string) {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.sink(Signal{Kind: SignalError, Code: code})
	r.sink(Signal{Kind: SignalEnd})
}

// End signals the end of the session if it is running.
func (r *MockRecognizer) End() {
	r.mu.Lock()
	was := r.running
	r.running = false
	r.mu.Unlock()
	if was {
		r.sink(Signal{Kind: SignalEnd})
	}
}

// Running reports whether a session is active.
func (r *MockRecognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Counts returns the number of Start, Stop and Abort calls.
func (r *MockRecognizer) Counts() (starts, stops, aborts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops, r.aborts
}

// Verify MockPlatform implements Platform at compile time.
var _ Platform = (*MockPlatform)(nil)
