package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics aggregates pipeline counters for the /metrics endpoint. Counter
// updates are lock-free; caption timestamps keep a one-hour sliding window
// so rates over several spans can be reported.
type Metrics struct {
	jobsQueued  atomic.Int64
	jobsDropped atomic.Int64
	jobsFailed  atomic.Int64
	jobsDone    atomic.Int64
	latencyMs   atomic.Int64
	lines       atomic.Int64

	sessionsStarted   atomic.Int64
	sessionsCompleted atomic.Int64

	mu         sync.Mutex
	lineTimes  []time.Time
	lastLineAt time.Time
	startedAt  time.Time
}

// NewMetrics builds a metrics sink with its uptime clock started.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

func (m *Metrics) JobQueued()  { m.jobsQueued.Add(1) }
func (m *Metrics) JobDropped() { m.jobsDropped.Add(1) }
func (m *Metrics) JobFailed()  { m.jobsFailed.Add(1) }

func (m *Metrics) JobDone(elapsed time.Duration) {
	m.jobsDone.Add(1)
	m.latencyMs.Add(elapsed.Milliseconds())
}

func (m *Metrics) SessionStarted()   { m.sessionsStarted.Add(1) }
func (m *Metrics) SessionCompleted() { m.sessionsCompleted.Add(1) }

func (m *Metrics) CaptionLine() {
	m.lines.Add(1)
	now := time.Now()
	m.mu.Lock()
	m.lineTimes = append(m.lineTimes, now)
	m.lastLineAt = now
	m.pruneLocked(now)
	m.mu.Unlock()
}

func (m *Metrics) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(m.lineTimes) && m.lineTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.lineTimes = append(m.lineTimes[:0], m.lineTimes[i:]...)
	}
}

// Snapshot is the JSON shape served by /metrics.
type Snapshot struct {
	UptimeSeconds     float64        `json:"uptime_seconds"`
	SessionsStarted   int64          `json:"sessions_started"`
	SessionsCompleted int64          `json:"sessions_completed"`
	JobsQueued        int64          `json:"jobs_queued"`
	JobsDropped       int64          `json:"jobs_dropped"`
	JobsFailed        int64          `json:"jobs_failed"`
	JobsDone          int64          `json:"jobs_done"`
	AvgLatencyMs      float64        `json:"avg_latency_ms"`
	CaptionLines      int64          `json:"caption_lines"`
	LastCaptionAt     string         `json:"last_caption_at,omitempty"`
	LinesByWindow     map[string]int `json:"lines_by_window"`
}

var windows = []struct {
	name string
	span time.Duration
}{
	{"30s", 30 * time.Second},
	{"1m", time.Minute},
	{"5m", 5 * time.Minute},
	{"15m", 15 * time.Minute},
	{"30m", 30 * time.Minute},
	{"1h", time.Hour},
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	now := time.Now()
	done := m.jobsDone.Load()
	avg := 0.0
	if done > 0 {
		avg = float64(m.latencyMs.Load()) / float64(done)
	}

	byWindow := make(map[string]int, len(windows))
	m.mu.Lock()
	lastLine := ""
	if !m.lastLineAt.IsZero() {
		lastLine = m.lastLineAt.UTC().Format(time.RFC3339)
	}
	m.pruneLocked(now)
	for _, w := range windows {
		cutoff := now.Add(-w.span)
		n := 0
		for i := len(m.lineTimes) - 1; i >= 0 && !m.lineTimes[i].Before(cutoff); i-- {
			n++
		}
		byWindow[w.name] = n
	}
	m.mu.Unlock()

	return Snapshot{
		UptimeSeconds:     now.Sub(m.startedAt).Seconds(),
		SessionsStarted:   m.sessionsStarted.Load(),
		SessionsCompleted: m.sessionsCompleted.Load(),
		JobsQueued:        m.jobsQueued.Load(),
		JobsDropped:       m.jobsDropped.Load(),
		JobsFailed:        m.jobsFailed.Load(),
		JobsDone:          done,
		AvgLatencyMs:      avg,
		CaptionLines:      m.lines.Load(),
		LastCaptionAt:     lastLine,
		LinesByWindow:     byWindow,
	}
}
