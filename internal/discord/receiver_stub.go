//go:build !opus
// +build !opus

package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/discord-caption-lab/internal/pipeline"
)

// Receiver stub for builds without libopus. Packets are dropped; the rest of
// the bot (gateway, roster, telemetry) still runs so the wiring can be
// exercised without the native dependency.
type Receiver struct {
	pipe *pipeline.Pipeline
}

// NewReceiver returns a no-op receiver in non-opus builds.
func NewReceiver(pipe *pipeline.Pipeline, sampleRate int) *Receiver {
	return &Receiver{pipe: pipe}
}

// HandlePacket drops the packet in non-opus builds.
func (r *Receiver) HandlePacket(pkt *discordgo.Packet) {}
