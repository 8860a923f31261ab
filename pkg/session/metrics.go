package session

import (
	"sync"
	"time"
)

// Metrics tracks latency for one conversation turn.
// All durations are measured from the moment the learner's text arrived.
type Metrics struct {
	// Timestamps for key events
	StartTime time.Time // final transcript received
	ReplyTime time.Time // reply generated (or fallback chosen)
	DoneTime  time.Time // reply finished speaking

	// Computed latencies
	GenerateLatency time.Duration
	SpeakLatency    time.Duration
	TotalLatency    time.Duration

	// Fallback is true when the keyword fallback replaced the generated reply.
	Fallback bool
}

// MetricsCollector collects per-turn latency. It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Metrics // recent turns for averaging
	turns   int
	falls   int
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, 100),
	}
}

// MarkStart begins a new turn.
func (m *MetricsCollector) MarkStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{StartTime: time.Now()}
}

// MarkReply records when the reply text became available.
func (m *MetricsCollector) MarkReply(fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ReplyTime = time.Now()
	m.current.Fallback = fallback
	if !m.current.StartTime.IsZero() {
		m.current.GenerateLatency = m.current.ReplyTime.Sub(m.current.StartTime)
	}
}

// MarkDone records the end of the turn and archives it.
func (m *MetricsCollector) MarkDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.DoneTime = time.Now()
	if !m.current.ReplyTime.IsZero() {
		m.current.SpeakLatency = m.current.DoneTime.Sub(m.current.ReplyTime)
	}
	if !m.current.StartTime.IsZero() {
		m.current.TotalLatency = m.current.DoneTime.Sub(m.current.StartTime)
	}

	m.turns++
	if m.current.Fallback {
		m.falls++
	}
	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
}

// Current returns the current turn's metrics.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Counts returns the number of completed turns and how many used the fallback.
func (m *MetricsCollector) Counts() (turns, fallbacks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns, m.falls
}

// Average returns average latencies over recent turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range m.history {
		avg.GenerateLatency += h.GenerateLatency
		avg.SpeakLatency += h.SpeakLatency
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.GenerateLatency /= n
	avg.SpeakLatency /= n
	avg.TotalLatency /= n

	return avg
}

// FormatLatency returns a one-line latency summary.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.GenerateLatency) + " GEN | " +
		formatDuration(m.SpeakLatency) + " SPEAK | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
