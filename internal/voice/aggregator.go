package voice

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/discord-caption-lab/internal/logging"
	"github.com/discord-caption-lab/internal/roster"
)

const sweepInterval = 200 * time.Millisecond

// Resolver maps a source id to a speaker identity at flush time.
type Resolver interface {
	Resolve(src uint32) roster.Identity
}

// Aggregator buffers decoded PCM per source id and emits fixed-size chunks.
// A chunk is cut as soon as a source's buffer holds chunkSamples; a shorter
// remainder is flushed once its oldest sample has waited silenceFlush.
// Sources never share buffers, so overlapping speakers cannot interleave.
type Aggregator struct {
	mu       sync.RWMutex
	buffers  map[uint32]*pcmAccum
	closed   bool
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	chunkSamples int
	sampleRate   int
	silenceFlush time.Duration
	resolver     Resolver
	sink         Submitter
}

type pcmAccum struct {
	mu      sync.Mutex
	samples []int16
	firstAt time.Time // arrival of the oldest unflushed sample
	lastAt  time.Time
	closed  bool
}

type chunkSpan struct {
	pcm        []int16
	start, end time.Time
}

// NewAggregator builds an aggregator cutting chunkSamples-sample chunks.
// Call Run to start the silence sweep.
func NewAggregator(chunkSamples, sampleRate int, silenceFlush time.Duration, resolver Resolver, sink Submitter) *Aggregator {
	return &Aggregator{
		buffers:      make(map[uint32]*pcmAccum),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		chunkSamples: chunkSamples,
		sampleRate:   sampleRate,
		silenceFlush: silenceFlush,
		resolver:     resolver,
		sink:         sink,
	}
}

// PushFrame appends a decoded frame to the source's buffer, cutting and
// emitting as many full chunks as the buffer now holds. Empty frames and
// frames arriving after FlushAll are ignored.
func (a *Aggregator) PushFrame(src uint32, pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return
	}
	acc, ok := a.buffers[src]
	a.mu.RUnlock()
	if !ok {
		if acc = a.accum(src); acc == nil {
			return
		}
	}

	now := time.Now()
	acc.mu.Lock()
	if acc.closed {
		acc.mu.Unlock()
		return
	}
	if len(acc.samples) == 0 {
		acc.firstAt = now
	}
	acc.samples = append(acc.samples, pcm...)
	acc.lastAt = now
	var chunks []chunkSpan
	start := acc.firstAt
	for len(acc.samples) >= a.chunkSamples {
		chunk := make([]int16, a.chunkSamples)
		copy(chunk, acc.samples[:a.chunkSamples])
		acc.samples = acc.samples[a.chunkSamples:]
		end := start.Add(a.span(a.chunkSamples))
		chunks = append(chunks, chunkSpan{pcm: chunk, start: start, end: end})
		start = end
	}
	if len(chunks) > 0 {
		// the remainder nominally begins where the last cut ended
		acc.firstAt = start
	}
	acc.mu.Unlock()

	for _, c := range chunks {
		a.emit(src, c.pcm, c.start, c.end)
	}
}

// span converts a sample count to its audio duration.
func (a *Aggregator) span(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(a.sampleRate)
}

// Run sweeps the buffers until FlushAll: a remainder whose oldest sample has
// aged past silenceFlush is emitted so trailing speech is not held back.
func (a *Aggregator) Run() {
	a.started.Store(true)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *Aggregator) sweep() {
	now := time.Now()
	a.mu.RLock()
	accums := make(map[uint32]*pcmAccum, len(a.buffers))
	for src, acc := range a.buffers {
		accums[src] = acc
	}
	a.mu.RUnlock()

	for src, acc := range accums {
		acc.mu.Lock()
		if len(acc.samples) == 0 || now.Sub(acc.firstAt) < a.silenceFlush {
			acc.mu.Unlock()
			continue
		}
		chunk := acc.samples
		start, end := acc.firstAt, acc.lastAt
		acc.samples = nil
		acc.mu.Unlock()
		logging.Debugw("aggregator: silence flush", "ssrc", src, "samples", len(chunk))
		a.emit(src, chunk, start, end)
	}
}

// FlushAll stops accepting frames, flushes every non-empty buffer, and stops
// the sweep goroutine. Safe to call more than once.
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	accums := make(map[uint32]*pcmAccum, len(a.buffers))
	for src, acc := range a.buffers {
		accums[src] = acc
	}
	a.mu.Unlock()

	for src, acc := range accums {
		acc.mu.Lock()
		acc.closed = true
		chunk := acc.samples
		start, end := acc.firstAt, acc.lastAt
		acc.samples = nil
		acc.mu.Unlock()
		if len(chunk) == 0 {
			continue
		}
		a.emit(src, chunk, start, end)
	}

	a.stopOnce.Do(func() { close(a.stop) })
	if a.started.Load() {
		<-a.done
	}
	logging.Infow("aggregator: flushed all buffers", "sources", len(accums))
}

// BufferedSamples reports how many samples are pending for a source.
func (a *Aggregator) BufferedSamples(src uint32) int {
	a.mu.RLock()
	acc, ok := a.buffers[src]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return len(acc.samples)
}

// accum returns the buffer for src, creating it if needed. Returns nil once
// the aggregator is closed so late frames cannot strand samples.
func (a *Aggregator) accum(src uint32) *pcmAccum {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	acc, ok := a.buffers[src]
	if !ok {
		acc = &pcmAccum{}
		a.buffers[src] = acc
		logging.Debugw("aggregator: new source buffer", "ssrc", src)
	}
	return acc
}

func (a *Aggregator) emit(src uint32, pcm []int16, start, end time.Time) {
	if len(pcm) == 0 {
		return
	}
	job := Job{
		Source:        src,
		Speaker:       a.resolver.Resolve(src),
		PCM:           pcm,
		SampleRate:    a.sampleRate,
		Start:         start,
		End:           end,
		CorrelationID: uuid.NewString(),
	}
	if !a.sink.Submit(job) {
		logging.Warnw("aggregator: job dropped, queue full",
			"ssrc", src, "samples", len(pcm), "correlation_id", job.CorrelationID)
	}
}
