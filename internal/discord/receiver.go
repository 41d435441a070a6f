//go:build opus
// +build opus

package discord

import (
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-caption-lab/internal/logging"
	"github.com/discord-caption-lab/internal/pipeline"
)

const (
	decodeChannels  = 1
	maxFrameSamples = 48000 / 50 * 6 // 120ms at 48kHz, largest opus frame
)

// Receiver decodes incoming Opus packets and feeds mono PCM into the
// pipeline. Each source id gets its own decoder so interleaved speakers do
// not corrupt each other's decoder state.
type Receiver struct {
	pipe       *pipeline.Pipeline
	sampleRate int

	mu       sync.Mutex
	decoders map[uint32]*opus.Decoder
}

// NewReceiver builds a receiver decoding at sampleRate.
func NewReceiver(pipe *pipeline.Pipeline, sampleRate int) *Receiver {
	return &Receiver{
		pipe:       pipe,
		sampleRate: sampleRate,
		decoders:   make(map[uint32]*opus.Decoder),
	}
}

// HandlePacket decodes one voice packet. Decode failures are logged and the
// packet dropped; one bad packet must not stall the stream.
func (r *Receiver) HandlePacket(pkt *discordgo.Packet) {
	if pkt == nil || len(pkt.Opus) == 0 {
		return
	}
	dec, err := r.decoder(pkt.SSRC)
	if err != nil {
		logging.Errorw("receiver: decoder init failed", "ssrc", pkt.SSRC, "err", err)
		return
	}
	pcm := make([]int16, maxFrameSamples)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		logging.Errorw("receiver: opus decode error", "ssrc", pkt.SSRC, "err", err)
		return
	}
	r.pipe.PushFrame(pkt.SSRC, pcm[:n])
}

func (r *Receiver) decoder(ssrc uint32) (*opus.Decoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dec, ok := r.decoders[ssrc]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(r.sampleRate, decodeChannels)
		if err != nil {
			return nil, err
		}
		r.decoders[ssrc] = dec
		logging.Debugw("receiver: new decoder", "ssrc", ssrc)
	}
	return dec, nil
}
