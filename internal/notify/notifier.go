// Package notify broadcasts the most recent speaker activity to interested
// consumers (presence updates, the live telemetry socket). It is a
// last-write-wins slot, not a queue: slow consumers see the newest value and
// skip the ones they missed.
package notify

import (
	"sync"
	"time"
)

// Activity is one "speaker was just transcribed" observation.
type Activity struct {
	SessionID string
	Speaker   string
	Text      string
	At        time.Time
}

// Notifier holds the latest Activity and fans it out to subscribers.
// Publish never blocks, regardless of how slow subscribers are.
type Notifier struct {
	mu     sync.Mutex
	latest Activity
	seq    uint64
	subs   map[chan Activity]struct{}
}

// New builds an empty notifier.
func New() *Notifier {
	return &Notifier{subs: make(map[chan Activity]struct{})}
}

// Publish replaces the latest activity and wakes subscribers. If a
// subscriber's channel is full, its stale value is dropped in favor of the
// new one.
func (n *Notifier) Publish(a Activity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest = a
	n.seq++
	for ch := range n.subs {
		select {
		case ch <- a:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- a:
			default:
			}
		}
	}
}

// Latest returns the most recently published activity and whether anything
// has been published yet.
func (n *Notifier) Latest() (Activity, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latest, n.seq > 0
}

// Subscribe registers a coalescing subscriber. The channel has capacity one:
// a consumer that falls behind receives only the newest activity. Call the
// returned cancel func to unsubscribe.
func (n *Notifier) Subscribe() (<-chan Activity, func()) {
	ch := make(chan Activity, 1)
	n.mu.Lock()
	if n.seq > 0 {
		ch <- n.latest
	}
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		delete(n.subs, ch)
		n.mu.Unlock()
	}
	return ch, cancel
}
