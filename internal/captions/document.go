package captions

import (
	"fmt"
	"time"
)

// SpeakerRef names the speaker of one transcript entry. ID is nil while the
// speaker is only known by a placeholder label.
type SpeakerRef struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
}

// Entry is one transcribed utterance in a session document. Timestamp marks
// when the utterance started; EndedAt when its audio chunk ended.
type Entry struct {
	Speaker   SpeakerRef `json:"speaker"`
	Comment   string     `json:"comment"`
	Timestamp string     `json:"timestamp"`
	EndedAt   string     `json:"ended_at,omitempty"`
}

// Metadata describes the session the document belongs to. EndedAt and the
// duration fields stay empty until the session closes.
type Metadata struct {
	Title             string  `json:"title"`
	StartedAt         string  `json:"started_at"`
	EndedAt           string  `json:"ended_at,omitempty"`
	DurationSeconds   float64 `json:"duration_seconds,omitempty"`
	DurationFormatted string  `json:"duration_formatted,omitempty"`
}

// Document is the full session transcript as persisted to disk.
type Document struct {
	Metadata       Metadata `json:"metadata"`
	Transcriptions []Entry  `json:"transcriptions"`
}

// KnownSpeaker builds a SpeakerRef carrying a durable user id.
func KnownSpeaker(userID, name string) SpeakerRef {
	id := userID
	return SpeakerRef{ID: &id, Name: name}
}

// PlaceholderSpeaker builds a SpeakerRef for an unidentified speaker.
func PlaceholderSpeaker(label string) SpeakerRef {
	return SpeakerRef{ID: nil, Name: label}
}

// IsPlaceholder reports whether the entry is still awaiting identification.
func (s SpeakerRef) IsPlaceholder() bool { return s.ID == nil }

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
