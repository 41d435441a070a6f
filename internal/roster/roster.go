package roster

import (
	"fmt"
	"sync"
	"time"

	"github.com/discord-caption-lab/internal/logging"
)

// EventKind tags one entry in a source's membership history.
type EventKind int

const (
	EventJoin EventKind = iota
	EventLeave
	EventSpoke
)

// Event is one join/leave/speak observation with its timestamp.
type Event struct {
	Kind EventKind
	At   time.Time
}

// NameLookup resolves a durable user id to a display name. Implementations
// may consult caches or the gateway session state.
type NameLookup interface {
	UserName(userID string) string
}

// RelabelFunc is invoked when a placeholder-mapped source is later identified,
// so previously written entries can be corrected.
type RelabelFunc func(oldLabel string, id Identity)

// Roster tracks channel membership and maps ephemeral source ids to speaker
// identities. Resolution never fails: when the protocol withholds the owner of
// a stream the roster hands out the next session-scoped placeholder instead.
type Roster struct {
	mu           sync.Mutex
	lookup       NameLookup
	relabel      RelabelFunc
	sources      map[uint32]*sourceEntry
	participants map[string]*participant
	pending      []string // user ids joined but not yet heard, in join order
	placeholders int
}

type sourceEntry struct {
	identity Identity
	history  []Event
}

type participant struct {
	joinedAt    time.Time
	lastSpokeAt time.Time
}

// New builds a roster for one session. lookup may be nil; relabel may be nil
// when no transcript correction is wanted (tests, dry runs).
func New(lookup NameLookup, relabel RelabelFunc) *Roster {
	return &Roster{
		lookup:       lookup,
		relabel:      relabel,
		sources:      make(map[uint32]*sourceEntry),
		participants: make(map[string]*participant),
	}
}

// Seed registers users already present in the channel when tracking starts.
// Seeded users are not queued as pending joins: they were there before the
// aggregator could observe them, so a later lone stream is not theirs by
// arrival order.
func (r *Roster) Seed(userIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		r.participants[id] = &participant{joinedAt: now}
	}
	logging.Debugw("roster: seeded participants", "count", len(r.participants))
}

// NoteJoin records a participant joining the tracked channel.
func (r *Roster) NoteJoin(userID string, at time.Time) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[userID] = &participant{joinedAt: at}
	r.removePendingLocked(userID)
	r.pending = append(r.pending, userID)
	logging.Debugw("roster: participant joined", "user_id", userID)
}

// NoteLeave records a participant leaving. Sources resolved to the user keep
// their cached identity (already-flushed audio stays attributed) but get a
// leave event in their history.
func (r *Roster) NoteLeave(userID string, at time.Time) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, userID)
	r.removePendingLocked(userID)
	for _, e := range r.sources {
		if e.identity.Kind == Resolved && e.identity.UserID == userID {
			e.history = append(e.history, Event{Kind: EventLeave, At: at})
		}
	}
	logging.Debugw("roster: participant left", "user_id", userID)
}

// spokeCoalesce merges speech observations closer together than this into one
// history event; maxHistory bounds per-source memory for the session.
const (
	spokeCoalesce = time.Second
	maxHistory    = 256
)

// NoteSpoke records speech activity for a source at the given time.
// Observations arriving in quick succession update the previous spoke event
// instead of growing the history.
func (r *Roster) NoteSpoke(src uint32, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(src)
	if n := len(e.history); n > 0 && e.history[n-1].Kind == EventSpoke && at.Sub(e.history[n-1].At) < spokeCoalesce {
		e.history[n-1].At = at
	} else {
		e.history = append(e.history, Event{Kind: EventSpoke, At: at})
	}
	if len(e.history) > maxHistory {
		e.history = append(e.history[:0], e.history[len(e.history)-maxHistory:]...)
	}
	if e.identity.Kind == Resolved {
		if p, ok := r.participants[e.identity.UserID]; ok {
			p.lastSpokeAt = at
		}
		r.removePendingLocked(e.identity.UserID)
	}
}

// NoteSpeaking ingests protocol metadata naming the owner of a source. This
// is the only path that upgrades an existing placeholder mapping; the upgrade
// issues a relabel instruction so past entries get corrected.
func (r *Roster) NoteSpeaking(src uint32, userID string) {
	if userID == "" {
		return
	}
	identity := ResolvedIdentity(userID, r.userName(userID))

	r.mu.Lock()
	e, ok := r.sources[src]
	var oldLabel string
	if ok && e.identity.Kind == Placeholder {
		oldLabel = e.identity.Label
	}
	if !ok {
		e = &sourceEntry{}
		e.history = append(e.history, Event{Kind: EventJoin, At: time.Now()})
		r.sources[src] = e
	}
	e.identity = identity
	r.removePendingLocked(userID)
	relabel := r.relabel
	r.mu.Unlock()

	logging.Debugw("roster: mapped source to user", "ssrc", src, "user_id", userID)
	if oldLabel != "" && relabel != nil {
		logging.Infow("roster: placeholder identified", "ssrc", src, "label", oldLabel, "user_id", userID)
		relabel(oldLabel, identity)
	}
}

// Resolve returns the speaker identity for a source id, never failing. A
// cached mapping wins; otherwise the roster tries the single-candidate guess
// heuristic and finally falls back to a fresh placeholder.
func (r *Roster) Resolve(src uint32) Identity {
	r.mu.Lock()
	if e, ok := r.sources[src]; ok && e.identity.Kind != Unknown {
		id := e.identity
		r.mu.Unlock()
		return id
	}

	if userID, ok := r.guessLocked(); ok {
		id := ResolvedIdentity(userID, r.userName(userID))
		e := r.entryLocked(src)
		e.identity = id
		r.mu.Unlock()
		logging.Debugw("roster: guess heuristic picked speaker", "ssrc", src, "user_id", userID)
		return id
	}

	r.placeholders++
	id := PlaceholderIdentity(fmt.Sprintf("Speaker %d", r.placeholders))
	e := r.entryLocked(src)
	e.identity = id
	r.mu.Unlock()
	logging.Debugw("roster: assigned placeholder", "ssrc", src, "label", id.Label)
	return id
}

// History returns a copy of the recorded events for a source.
func (r *Roster) History(src uint32) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sources[src]
	if !ok {
		return nil
	}
	out := make([]Event, len(e.history))
	copy(out, e.history)
	return out
}

// ParticipantCount reports current channel membership size.
func (r *Roster) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// guessLocked applies the best-effort "exactly one unmapped candidate"
// heuristic: a sole pending join, or a sole tracked participant. Any
// ambiguity returns false and the caller falls back to a placeholder.
func (r *Roster) guessLocked() (string, bool) {
	if len(r.pending) == 1 {
		userID := r.pending[0]
		r.pending = nil
		return userID, true
	}
	if len(r.pending) == 0 && len(r.participants) == 1 {
		for userID := range r.participants {
			return userID, true
		}
	}
	return "", false
}

func (r *Roster) entryLocked(src uint32) *sourceEntry {
	e, ok := r.sources[src]
	if !ok {
		e = &sourceEntry{history: []Event{{Kind: EventJoin, At: time.Now()}}}
		r.sources[src] = e
	}
	return e
}

func (r *Roster) removePendingLocked(userID string) {
	for i, id := range r.pending {
		if id == userID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

func (r *Roster) userName(userID string) string {
	if r.lookup != nil {
		if n := r.lookup.UserName(userID); n != "" {
			return n
		}
	}
	return ""
}
