package captions

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discord-caption-lab/internal/logging"
)

var (
	// ErrSessionNotFound is returned for operations against an unknown session id.
	ErrSessionNotFound = errors.New("captions: session not found")
	// ErrSessionClosed is returned for appends and relabels after Close.
	ErrSessionClosed = errors.New("captions: session closed")
)

// Store owns session transcript documents and their on-disk JSON files. Every
// mutation rewrites the whole document so the file is always valid JSON and
// never mid-append garbage.
type Store struct {
	mu       sync.Mutex
	dir      string
	sessions map[string]*session
}

type session struct {
	mu     sync.Mutex
	doc    Document
	path   string
	opened time.Time
	closed bool
	dirty  bool // last persist failed, disk is behind memory
}

// NewStore builds a store writing session documents under dir.
func NewStore(dir string) *Store {
	return &Store{
		dir:      dir,
		sessions: make(map[string]*session),
	}
}

// OpenSession starts a new transcript document and returns its session id.
// The document file is created immediately so an empty session still leaves
// a record on disk.
func (s *Store) OpenSession(title string, startedAt time.Time) string {
	id := uuid.NewString()
	fname := fmt.Sprintf("%s_%s.json", startedAt.UTC().Format("20060102T150405Z"), id[:8])
	sess := &session{
		doc: Document{
			Metadata: Metadata{
				Title:     title,
				StartedAt: startedAt.UTC().Format(time.RFC3339),
			},
			Transcriptions: []Entry{},
		},
		path:   filepath.Join(s.dir, fname),
		opened: startedAt,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	sess.mu.Lock()
	if err := sess.persistLocked(); err != nil {
		logging.Warnw("captions: initial document write failed", "session_id", id, "err", err)
	}
	sess.mu.Unlock()

	logging.Infow("captions: session opened", "session_id", id, "path", sess.path)
	return id
}

// Append adds one entry to the session transcript and rewrites the document.
// A persistence failure is retried once; the entry is kept in memory either
// way and the error is surfaced so callers can count it.
func (s *Store) Append(sessionID string, e Entry) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionClosed
	}
	sess.doc.Transcriptions = append(sess.doc.Transcriptions, e)
	return sess.flushLocked(sessionID)
}

// Relabel rewrites every placeholder entry whose speaker name matches
// oldLabel to carry the resolved identity, then persists. It returns the
// number of entries changed; zero matches is a successful no-op, which makes
// repeated relabels idempotent.
func (s *Store) Relabel(sessionID, oldLabel, userID, name string) (int, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return 0, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return 0, ErrSessionClosed
	}
	changed := 0
	for i := range sess.doc.Transcriptions {
		sp := &sess.doc.Transcriptions[i].Speaker
		if sp.ID == nil && sp.Name == oldLabel {
			*sp = KnownSpeaker(userID, name)
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	logging.Infow("captions: relabeled entries", "session_id", sessionID, "label", oldLabel, "name", name, "count", changed)
	return changed, sess.flushLocked(sessionID)
}

// Close finalizes the session metadata, persists the document one last time,
// and returns the finished transcript. Further appends and relabels fail with
// ErrSessionClosed.
func (s *Store) Close(sessionID string, endedAt time.Time) (Document, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return Document{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return Document{}, ErrSessionClosed
	}
	sess.closed = true
	dur := endedAt.Sub(sess.opened)
	sess.doc.Metadata.EndedAt = endedAt.UTC().Format(time.RFC3339)
	sess.doc.Metadata.DurationSeconds = dur.Seconds()
	sess.doc.Metadata.DurationFormatted = formatDuration(dur)

	perr := sess.flushLocked(sessionID)
	doc := sess.snapshotLocked()
	logging.Infow("captions: session closed",
		"session_id", sessionID, "entries", len(doc.Transcriptions), "duration", doc.Metadata.DurationFormatted)
	return doc, perr
}

// Snapshot returns a copy of the current document for a session.
func (s *Store) Snapshot(sessionID string) (Document, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return Document{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(), nil
}

// Path returns the on-disk location of a session document.
func (s *Store) Path(sessionID string) (string, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return "", err
	}
	return sess.path, nil
}

func (s *Store) lookup(sessionID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (sess *session) snapshotLocked() Document {
	doc := sess.doc
	doc.Transcriptions = make([]Entry, len(sess.doc.Transcriptions))
	copy(doc.Transcriptions, sess.doc.Transcriptions)
	return doc
}

// flushLocked persists the document, retrying once on failure. On a repeated
// failure the in-memory document stays authoritative and the next successful
// flush catches the file up.
func (sess *session) flushLocked(sessionID string) error {
	if err := sess.persistLocked(); err != nil {
		logging.Warnw("captions: document write failed, retrying", "session_id", sessionID, "err", err)
		if err = sess.persistLocked(); err != nil {
			sess.dirty = true
			logging.Errorw("captions: document write failed twice", "session_id", sessionID, "path", sess.path, "err", err)
			return fmt.Errorf("persist session document: %w", err)
		}
	}
	if sess.dirty {
		logging.Infow("captions: document recovered after earlier write failure", "session_id", sessionID)
		sess.dirty = false
	}
	return nil
}

func (sess *session) persistLocked() error {
	data, err := json.MarshalIndent(&sess.doc, "", "  ")
	if err != nil {
		return err
	}
	return saveFileAtomic(sess.path, data, 0o644)
}
