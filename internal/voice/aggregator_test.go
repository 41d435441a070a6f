package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/discord-caption-lab/internal/roster"
)

type fixedResolver struct{}

func (fixedResolver) Resolve(src uint32) roster.Identity {
	return roster.PlaceholderIdentity("Speaker 1")
}

type captureSink struct {
	mu     sync.Mutex
	jobs   []Job
	reject bool
}

func (c *captureSink) Submit(j Job) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject {
		return false
	}
	c.jobs = append(c.jobs, j)
	return true
}

func (c *captureSink) snapshot() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}

func frame(n int, val int16) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = val
	}
	return f
}

func TestChunksCutAtExactSize(t *testing.T) {
	sink := &captureSink{}
	a := NewAggregator(100, 1000, time.Hour, fixedResolver{}, sink)

	// 320 samples in 80-sample frames: three full chunks, 20 left over
	for i := 0; i < 4; i++ {
		a.PushFrame(1, frame(80, int16(i)))
	}
	jobs := sink.snapshot()
	if len(jobs) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(jobs))
	}
	for i, j := range jobs {
		if len(j.PCM) != 100 {
			t.Fatalf("chunk %d has %d samples, want exactly 100", i, len(j.PCM))
		}
	}
	if got := a.BufferedSamples(1); got != 20 {
		t.Fatalf("remainder = %d samples, want 20", got)
	}

	a.FlushAll()
	jobs = sink.snapshot()
	if len(jobs) != 4 {
		t.Fatalf("expected remainder flushed as 4th job, got %d jobs", len(jobs))
	}
	if len(jobs[3].PCM) != 20 {
		t.Fatalf("remainder job has %d samples, want 20", len(jobs[3].PCM))
	}

	total := 0
	for _, j := range jobs {
		total += len(j.PCM)
	}
	if total != 320 {
		t.Fatalf("samples not conserved: %d, want 320", total)
	}
}

func TestSourcesDoNotShareBuffers(t *testing.T) {
	sink := &captureSink{}
	a := NewAggregator(100, 1000, time.Hour, fixedResolver{}, sink)

	// interleave two speakers with distinct sample values
	for i := 0; i < 5; i++ {
		a.PushFrame(1, frame(40, 1))
		a.PushFrame(2, frame(40, 2))
	}
	for _, j := range sink.snapshot() {
		want := int16(j.Source)
		for _, s := range j.PCM {
			if s != want {
				t.Fatalf("job for source %d contains sample %d", j.Source, s)
			}
		}
	}
}

func TestSilenceFlushEmitsRemainder(t *testing.T) {
	sink := &captureSink{}
	a := NewAggregator(1000, 1000, 50*time.Millisecond, fixedResolver{}, sink)
	go a.Run()
	defer a.FlushAll()

	a.PushFrame(1, frame(50, 3))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if jobs := sink.snapshot(); len(jobs) == 1 {
			if len(jobs[0].PCM) != 50 {
				t.Fatalf("silence flush emitted %d samples, want 50", len(jobs[0].PCM))
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("silence flush never fired")
}

func TestEmptyFramesAndClosedAggregatorIgnored(t *testing.T) {
	sink := &captureSink{}
	a := NewAggregator(10, 1000, time.Hour, fixedResolver{}, sink)

	a.PushFrame(1, nil)
	a.PushFrame(1, []int16{})
	if len(sink.snapshot()) != 0 {
		t.Fatal("empty frames produced jobs")
	}

	a.FlushAll()
	a.PushFrame(1, frame(20, 1))
	if len(sink.snapshot()) != 0 {
		t.Fatal("frame accepted after FlushAll")
	}
	// FlushAll twice is safe
	a.FlushAll()
}

func TestFrameAfterFlushAllNotStranded(t *testing.T) {
	sink := &captureSink{}
	a := NewAggregator(100, 1000, time.Hour, fixedResolver{}, sink)

	a.PushFrame(1, frame(30, 1))
	a.FlushAll()
	// the source's buffer already exists; a late frame must be rejected,
	// not silently parked where no flush will ever reach it
	a.PushFrame(1, frame(30, 2))

	if got := a.BufferedSamples(1); got != 0 {
		t.Fatalf("%d samples stranded after FlushAll", got)
	}
	total := 0
	for _, j := range sink.snapshot() {
		total += len(j.PCM)
	}
	if total != 30 {
		t.Fatalf("emitted %d samples, want only the 30 pushed before FlushAll", total)
	}
}

func TestChunksFromOnePushCarryDistinctSpans(t *testing.T) {
	sink := &captureSink{}
	a := NewAggregator(100, 1000, time.Hour, fixedResolver{}, sink)

	// one push cutting two chunks plus a remainder
	a.PushFrame(1, frame(250, 1))

	jobs := sink.snapshot()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(jobs))
	}
	want := 100 * time.Millisecond // 100 samples at 1000 Hz
	for i, j := range jobs {
		if d := j.End.Sub(j.Start); d != want {
			t.Fatalf("chunk %d spans %v, want %v", i, d, want)
		}
	}
	if !jobs[1].Start.Equal(jobs[0].End) {
		t.Fatalf("second chunk starts at %v, want %v (end of first)", jobs[1].Start, jobs[0].End)
	}
	if !jobs[1].Start.After(jobs[0].Start) {
		t.Fatal("chunks share a start time")
	}
}

func TestFlushAllSkipsEmptyBuffers(t *testing.T) {
	sink := &captureSink{}
	a := NewAggregator(10, 1000, time.Hour, fixedResolver{}, sink)

	a.PushFrame(1, frame(10, 1)) // exact chunk, buffer drained
	a.FlushAll()

	jobs := sink.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
}

func TestJobMetadata(t *testing.T) {
	sink := &captureSink{}
	a := NewAggregator(10, 1000, time.Hour, fixedResolver{}, sink)
	a.PushFrame(5, frame(10, 1))

	jobs := sink.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	j := jobs[0]
	if j.Source != 5 {
		t.Fatalf("source = %d, want 5", j.Source)
	}
	if j.SampleRate != 1000 {
		t.Fatalf("sample rate = %d, want 1000", j.SampleRate)
	}
	if j.Speaker.DisplayLabel() != "Speaker 1" {
		t.Fatalf("speaker = %q", j.Speaker.DisplayLabel())
	}
	if j.CorrelationID == "" {
		t.Fatal("correlation id missing")
	}
	if j.Duration() != 10*time.Millisecond {
		t.Fatalf("duration = %v, want 10ms", j.Duration())
	}
}
