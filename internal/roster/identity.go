package roster

import "fmt"

// Kind describes how much is known about the speaker behind a source id.
type Kind int

const (
	// Unknown is the transient pre-resolution state; Resolve never returns it.
	Unknown Kind = iota
	// Placeholder is a stable session-scoped label for an unidentified speaker.
	Placeholder
	// Resolved carries a durable user identifier. Terminal: a source never
	// moves back from Resolved.
	Resolved
)

// Identity is the speaker attribution attached to every transcription job.
// Values are immutable; a source's mapping is replaced, never mutated.
type Identity struct {
	Kind   Kind
	UserID string // set when Kind == Resolved
	Name   string // display name for Resolved speakers
	Label  string // set when Kind == Placeholder, e.g. "Speaker 2"
}

// ResolvedIdentity builds a Resolved identity for a durable user id.
func ResolvedIdentity(userID, name string) Identity {
	if name == "" {
		name = fmt.Sprintf("User %s", userID)
	}
	return Identity{Kind: Resolved, UserID: userID, Name: name}
}

// PlaceholderIdentity builds a Placeholder identity with the given label.
func PlaceholderIdentity(label string) Identity {
	return Identity{Kind: Placeholder, Label: label}
}

// DisplayLabel renders the identity the way it appears in the transcript.
func (id Identity) DisplayLabel() string {
	switch id.Kind {
	case Resolved:
		return id.Name
	case Placeholder:
		return id.Label
	default:
		return "unknown"
	}
}

// IsPlaceholder reports whether the identity is still a session placeholder.
func (id Identity) IsPlaceholder() bool { return id.Kind == Placeholder }
