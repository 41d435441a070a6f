// Package pipeline assembles the per-session capture chain: roster for
// speaker identity, aggregator for chunking, dispatcher for transcription,
// and the caption store for the transcript document.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/discord-caption-lab/internal/captions"
	"github.com/discord-caption-lab/internal/config"
	"github.com/discord-caption-lab/internal/logging"
	"github.com/discord-caption-lab/internal/notify"
	"github.com/discord-caption-lab/internal/roster"
	"github.com/discord-caption-lab/internal/transcribe"
	"github.com/discord-caption-lab/internal/voice"
)

var (
	// ErrNoSession is returned when ending without an active session.
	ErrNoSession = errors.New("pipeline: no active session")
	// ErrSessionActive is returned when starting over a running session.
	ErrSessionActive = errors.New("pipeline: session already active")
)

// Pipeline manages at most one live capture session at a time.
type Pipeline struct {
	cfg      *config.Config
	store    *captions.Store
	engine   transcribe.Engine
	notifier *notify.Notifier
	metrics  transcribe.Metrics
	lookup   roster.NameLookup

	mu   sync.Mutex
	sess *session
}

type session struct {
	id     string
	roster *roster.Roster
	agg    *voice.Aggregator
	disp   *transcribe.Dispatcher
}

// New builds a pipeline. notifier, metrics, and lookup may be nil.
func New(cfg *config.Config, store *captions.Store, engine transcribe.Engine, notifier *notify.Notifier, metrics transcribe.Metrics, lookup roster.NameLookup) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		notifier: notifier,
		metrics:  metrics,
		lookup:   lookup,
	}
}

// StartSession opens a transcript document and spins up the capture chain.
// participants seeds the roster with users already in the channel.
func (p *Pipeline) StartSession(ctx context.Context, title string, participants []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil {
		return "", ErrSessionActive
	}

	id := p.store.OpenSession(title, time.Now())

	ros := roster.New(p.lookup, func(oldLabel string, identity roster.Identity) {
		if _, err := p.store.Relabel(id, oldLabel, identity.UserID, identity.Name); err != nil {
			logging.Warnw("pipeline: relabel failed", "session_id", id, "label", oldLabel, "err", err)
		}
	})
	ros.Seed(participants)

	disp := transcribe.NewDispatcher(p.engine, p.store, p.notifier, p.metrics, id,
		p.cfg.Caption.QueueSize, p.cfg.Caption.Workers)
	disp.Start(ctx)

	agg := voice.NewAggregator(p.cfg.ChunkSamples(), p.cfg.Caption.SampleRate,
		p.cfg.Caption.SilenceFlush, ros, disp)
	go agg.Run()

	p.sess = &session{id: id, roster: ros, agg: agg, disp: disp}
	logging.Infow("pipeline: session started", "session_id", id, "title", title,
		"chunk_samples", p.cfg.ChunkSamples(), "participants", len(participants))
	return id, nil
}

// EndSession flushes buffered audio, waits for in-flight transcriptions, and
// closes the transcript. It returns the finalized document.
func (p *Pipeline) EndSession() (captions.Document, error) {
	p.mu.Lock()
	sess := p.sess
	p.sess = nil
	p.mu.Unlock()
	if sess == nil {
		return captions.Document{}, ErrNoSession
	}

	sess.agg.FlushAll()
	sess.disp.Close()
	doc, err := p.store.Close(sess.id, time.Now())
	if err != nil {
		logging.Warnw("pipeline: session close reported error", "session_id", sess.id, "err", err)
	}
	return doc, err
}

// PushFrame feeds one decoded frame into the active session. Frames arriving
// with no session running are dropped. The roster is deliberately not touched
// here: speech activity is recorded from speaking-update transitions, keeping
// the frame path free of roster contention.
func (p *Pipeline) PushFrame(src uint32, pcm []int16) {
	if sess := p.active(); sess != nil {
		sess.agg.PushFrame(src, pcm)
	}
}

// NoteSpeaking forwards source-to-user metadata to the active roster.
func (p *Pipeline) NoteSpeaking(src uint32, userID string) {
	if sess := p.active(); sess != nil {
		sess.roster.NoteSpeaking(src, userID)
	}
}

// NoteSpoke records that a source started speaking.
func (p *Pipeline) NoteSpoke(src uint32) {
	if sess := p.active(); sess != nil {
		sess.roster.NoteSpoke(src, time.Now())
	}
}

// NoteJoin records a participant joining the tracked channel.
func (p *Pipeline) NoteJoin(userID string) {
	if sess := p.active(); sess != nil {
		sess.roster.NoteJoin(userID, time.Now())
	}
}

// NoteLeave records a participant leaving the tracked channel.
func (p *Pipeline) NoteLeave(userID string) {
	if sess := p.active(); sess != nil {
		sess.roster.NoteLeave(userID, time.Now())
	}
}

// SessionID returns the active session id, or empty.
func (p *Pipeline) SessionID() string {
	if sess := p.active(); sess != nil {
		return sess.id
	}
	return ""
}

func (p *Pipeline) active() *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess
}
