package transcribe

import (
	"context"
	"sync"
	"time"

	"github.com/discord-caption-lab/internal/captions"
	"github.com/discord-caption-lab/internal/logging"
	"github.com/discord-caption-lab/internal/notify"
	"github.com/discord-caption-lab/internal/roster"
	"github.com/discord-caption-lab/internal/voice"
)

// Metrics receives dispatcher events. Implementations must be cheap and
// non-blocking; a nil Metrics disables reporting.
type Metrics interface {
	JobQueued()
	JobDropped()
	JobFailed()
	JobDone(elapsed time.Duration)
	CaptionLine()
}

// Dispatcher feeds buffered speech chunks through the STT engine and appends
// the results to one session's transcript. The queue is bounded and Submit
// never blocks: when transcription cannot keep up, new chunks are dropped and
// counted rather than stalling audio capture.
type Dispatcher struct {
	engine    Engine
	store     *captions.Store
	notifier  *notify.Notifier
	metrics   Metrics
	sessionID string

	jobs     chan voice.Job
	inflight sync.WaitGroup
	workers  int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher for one session. notifier and metrics
// may be nil.
func NewDispatcher(engine Engine, store *captions.Store, notifier *notify.Notifier, metrics Metrics, sessionID string, queueSize, workers int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		engine:    engine,
		store:     store,
		notifier:  notifier,
		metrics:   metrics,
		sessionID: sessionID,
		jobs:      make(chan voice.Job, queueSize),
		workers:   workers,
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for job := range d.jobs {
				d.process(ctx, job)
				d.inflight.Done()
			}
		}()
	}
	logging.Infow("dispatcher: started", "session_id", d.sessionID, "workers", d.workers, "queue", cap(d.jobs))
}

// Submit enqueues a job without blocking. It returns false when the queue is
// full or the dispatcher is closed; the job is dropped in both cases.
func (d *Dispatcher) Submit(j voice.Job) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.inflight.Add(1)
	select {
	case d.jobs <- j:
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.JobQueued()
		}
		return true
	default:
		d.inflight.Done()
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.JobDropped()
		}
		return false
	}
}

// Drain blocks until every accepted job has been processed.
func (d *Dispatcher) Drain() {
	d.inflight.Wait()
}

// Close drains outstanding jobs and stops the workers. Submit returns false
// afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	close(d.jobs)
	d.wg.Wait()
	logging.Infow("dispatcher: closed", "session_id", d.sessionID)
}

func (d *Dispatcher) process(ctx context.Context, j voice.Job) {
	began := time.Now()
	text, err := d.engine.Transcribe(ctx, j.PCM, j.SampleRate, j.CorrelationID)
	if err != nil {
		if d.metrics != nil {
			d.metrics.JobFailed()
		}
		logging.Warnw("dispatcher: transcription failed",
			"ssrc", j.Source, "duration", j.Duration(), "err", err, "correlation_id", j.CorrelationID)
		return
	}
	if d.metrics != nil {
		d.metrics.JobDone(time.Since(began))
	}
	if text == "" {
		logging.Debugw("dispatcher: empty transcription, skipping",
			"ssrc", j.Source, "correlation_id", j.CorrelationID)
		return
	}

	entry := captions.Entry{
		Speaker:   speakerRef(j.Speaker),
		Comment:   text,
		Timestamp: j.Start.UTC().Format(time.RFC3339),
		EndedAt:   j.End.UTC().Format(time.RFC3339),
	}
	if err := d.store.Append(d.sessionID, entry); err != nil {
		logging.Errorw("dispatcher: append failed",
			"session_id", d.sessionID, "err", err, "correlation_id", j.CorrelationID)
		return
	}
	if d.metrics != nil {
		d.metrics.CaptionLine()
	}
	if d.notifier != nil {
		d.notifier.Publish(notify.Activity{
			SessionID: d.sessionID,
			Speaker:   j.Speaker.DisplayLabel(),
			Text:      text,
			At:        j.End,
		})
	}
	logging.Debugw("dispatcher: entry appended",
		"session_id", d.sessionID, "speaker", entry.Speaker.Name, "chars", len(text), "correlation_id", j.CorrelationID)
}

func speakerRef(id roster.Identity) captions.SpeakerRef {
	if id.Kind == roster.Resolved {
		return captions.KnownSpeaker(id.UserID, id.Name)
	}
	return captions.PlaceholderSpeaker(id.DisplayLabel())
}
