package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-caption-lab/internal/logging"
	"github.com/discord-caption-lab/internal/notify"
)

// presenceThrottle bounds how often the gateway status is rewritten.
const presenceThrottle = 5 * time.Second

// Presence mirrors the latest transcribed speaker into the bot's status
// line. Updates are throttled and coalesced; only the newest speaker wins.
type Presence struct {
	dg       *discordgo.Session
	notifier *notify.Notifier
}

// NewPresence builds a presence updater.
func NewPresence(dg *discordgo.Session, notifier *notify.Notifier) *Presence {
	return &Presence{dg: dg, notifier: notifier}
}

// Run consumes speaker activity until ctx is cancelled, then clears the
// status.
func (p *Presence) Run(ctx context.Context) {
	updates, cancel := p.notifier.Subscribe()
	defer cancel()

	var lastSet time.Time
	var lastSpeaker string
	for {
		select {
		case <-ctx.Done():
			_ = p.dg.UpdateListeningStatus("")
			return
		case a := <-updates:
			if a.Speaker == lastSpeaker && time.Since(lastSet) < presenceThrottle {
				continue
			}
			status := fmt.Sprintf("Listening to: %s", a.Speaker)
			if err := p.dg.UpdateListeningStatus(status); err != nil {
				logging.Debugw("presence: update failed", "err", err)
				continue
			}
			lastSet = time.Now()
			lastSpeaker = a.Speaker
		}
	}
}
