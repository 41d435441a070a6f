package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-caption-lab/internal/logging"
	"github.com/discord-caption-lab/internal/pipeline"
)

// Bot bridges discordgo gateway events to the capture pipeline: voice state
// changes become roster joins/leaves, speaking updates become source-to-user
// mappings, and voice packets flow through the receiver.
type Bot struct {
	dg        *discordgo.Session
	pipe      *pipeline.Pipeline
	recv      *Receiver
	guildID   string
	channelID string
	vc        *discordgo.VoiceConnection
}

// NewBot wires the handlers for one tracked voice channel.
func NewBot(dg *discordgo.Session, pipe *pipeline.Pipeline, recv *Receiver, guildID, channelID string) *Bot {
	b := &Bot{
		dg:        dg,
		pipe:      pipe,
		recv:      recv,
		guildID:   guildID,
		channelID: channelID,
	}
	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		b.handleVoiceState(s, vs)
	})
	return b
}

// Participants lists user ids currently in the tracked channel, excluding
// the bot itself.
func (b *Bot) Participants() []string {
	g, err := b.dg.State.Guild(b.guildID)
	if err != nil || g == nil {
		return nil
	}
	var out []string
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == b.channelID && vs.UserID != b.botUserID() {
			out = append(out, vs.UserID)
		}
	}
	return out
}

// JoinVoice connects to the tracked channel and starts consuming speaking
// updates and voice packets.
func (b *Bot) JoinVoice() error {
	vc, err := b.dg.ChannelVoiceJoin(b.guildID, b.channelID, false, false)
	if err != nil {
		return fmt.Errorf("voice join: %w", err)
	}
	b.vc = vc

	// Speaking updates arrive on the voice websocket, not the gateway.
	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		logging.Debugw("bot: speaking update", "user", su.UserID, "ssrc", su.SSRC, "speaking", su.Speaking)
		b.pipe.NoteSpeaking(uint32(su.SSRC), su.UserID)
		if su.Speaking {
			b.pipe.NoteSpoke(uint32(su.SSRC))
		}
	})

	if vc.OpusRecv != nil {
		go func() {
			for pkt := range vc.OpusRecv {
				b.recv.HandlePacket(pkt)
			}
			logging.Infow("bot: voice receive channel closed")
		}()
	} else {
		logging.Warnw("bot: voice connection has no receive channel")
	}

	logging.Infow("bot: voice joined", "guild", b.guildID, "channel", b.channelID)
	return nil
}

// LeaveVoice disconnects from the voice channel.
func (b *Bot) LeaveVoice() {
	if b.vc == nil {
		return
	}
	if err := b.vc.Disconnect(); err != nil {
		logging.Warnw("bot: voice disconnect error", "err", err)
	}
	b.vc = nil
}

func (b *Bot) handleVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.UserID == b.botUserID() {
		return
	}
	switch {
	case vs.ChannelID == b.channelID:
		b.pipe.NoteJoin(vs.UserID)
	case vs.BeforeUpdate != nil && vs.BeforeUpdate.ChannelID == b.channelID:
		b.pipe.NoteLeave(vs.UserID)
	}
}

func (b *Bot) botUserID() string {
	if b.dg.State != nil && b.dg.State.User != nil {
		return b.dg.State.User.ID
	}
	return ""
}
