package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// cacheTTL controls how long a cached name is valid.
var cacheTTL = 5 * time.Minute

type cacheEntry struct {
	val    string
	expiry time.Time
}

// Resolver maps user ids to display names, preferring the guild nickname.
// Lookups hit the session state first and fall back to the REST API; results
// are cached with a TTL so transcription never hammers the API.
type Resolver struct {
	s       *discordgo.Session
	guildID string
	mu      sync.Mutex
	cache   map[string]cacheEntry
}

// NewResolver builds a resolver scoped to one guild.
func NewResolver(s *discordgo.Session, guildID string) *Resolver {
	return &Resolver{
		s:       s,
		guildID: guildID,
		cache:   make(map[string]cacheEntry),
	}
}

// UserName returns the best display name for a user id, or "" when nothing
// can be resolved.
func (r *Resolver) UserName(userID string) string {
	if r.s == nil || userID == "" {
		return ""
	}
	r.mu.Lock()
	if e, ok := r.cache[userID]; ok {
		if time.Now().Before(e.expiry) {
			r.mu.Unlock()
			return e.val
		}
		delete(r.cache, userID)
	}
	r.mu.Unlock()

	name := r.lookup(userID)
	if name != "" {
		r.mu.Lock()
		r.cache[userID] = cacheEntry{val: name, expiry: time.Now().Add(cacheTTL)}
		r.mu.Unlock()
	}
	return name
}

func (r *Resolver) lookup(userID string) string {
	if r.guildID != "" {
		if m, err := r.s.State.Member(r.guildID, userID); err == nil && m != nil {
			if m.Nick != "" {
				return m.Nick
			}
			if m.User != nil && m.User.Username != "" {
				return m.User.Username
			}
		}
		if m, err := r.s.GuildMember(r.guildID, userID); err == nil && m != nil {
			if m.Nick != "" {
				return m.Nick
			}
			if m.User != nil {
				return m.User.Username
			}
		}
	}
	if u, err := r.s.User(userID); err == nil && u != nil {
		return u.Username
	}
	return ""
}
