package voice

import (
	"time"

	"github.com/discord-caption-lab/internal/roster"
)

// Job is one chunk of buffered speech ready for transcription. PCM is mono
// 16-bit at SampleRate.
type Job struct {
	Source        uint32
	Speaker       roster.Identity
	PCM           []int16
	SampleRate    int
	Start         time.Time
	End           time.Time
	CorrelationID string
}

// Duration reports the audio length covered by the job's samples.
func (j Job) Duration() time.Duration {
	if j.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(j.PCM)) * time.Second / time.Duration(j.SampleRate)
}

// Submitter accepts jobs for asynchronous transcription. Submit must never
// block; it reports whether the job was accepted.
type Submitter interface {
	Submit(j Job) bool
}
