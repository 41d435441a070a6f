package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/discord-caption-lab/internal/captions"
	"github.com/discord-caption-lab/internal/config"
	"github.com/discord-caption-lab/internal/discord"
	"github.com/discord-caption-lab/internal/logging"
	"github.com/discord-caption-lab/internal/notify"
	"github.com/discord-caption-lab/internal/pipeline"
	"github.com/discord-caption-lab/internal/summary"
	"github.com/discord-caption-lab/internal/telemetry"
	"github.com/discord-caption-lab/internal/transcribe"
)

func main() {
	sugar := logging.Init()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}
	if cfg.Discord.Token == "" {
		sugar.Fatal("DISCORD_BOT_TOKEN not set")
	}

	store := captions.NewStore(cfg.Caption.OutputDir)
	metrics := telemetry.NewMetrics()
	notifier := notify.New()
	engine := transcribe.NewWhisperClient(cfg.Whisper.URL, cfg.Whisper.Language, cfg.Whisper.Timeout)

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		sugar.Fatalf("discord session: %v", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMembers

	resolver := discord.NewResolver(dg, cfg.Discord.GuildID)
	pipe := pipeline.New(cfg, store, engine, notifier, metrics, resolver)
	recv := discord.NewReceiver(pipe, cfg.Caption.SampleRate)
	bot := discord.NewBot(dg, pipe, recv, cfg.Discord.GuildID, cfg.Discord.VoiceChannelID)

	tsrv := telemetry.NewServer(cfg.HTTP.Addr, metrics, notifier)
	tsrv.Start()

	if err := dg.Open(); err != nil {
		sugar.Fatalf("discord open: %v", err)
	}
	sugar.Infow("gateway connected")
	if dg.State != nil && dg.State.User != nil {
		sugar.Infow("invite URL",
			"url", fmt.Sprintf("https://discord.com/oauth2/authorize?client_id=%s&scope=bot&permissions=3145728", dg.State.User.ID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	presence := discord.NewPresence(dg, notifier)
	go presence.Run(ctx)

	if cfg.Discord.GuildID != "" && cfg.Discord.VoiceChannelID != "" {
		if err := bot.JoinVoice(); err != nil {
			sugar.Fatalf("voice join: %v", err)
		}
		title := fmt.Sprintf("Voice call %s", time.Now().Format("2006-01-02 15:04"))
		sessionID, err := pipe.StartSession(ctx, title, bot.Participants())
		if err != nil {
			sugar.Fatalf("start session: %v", err)
		}
		sugar.Infow("capturing", "session_id", sessionID)
		metrics.SessionStarted()
		tsrv.SetReady(true)
	} else {
		sugar.Warnw("GUILD_ID or VOICE_CHANNEL_ID not set, idling without capture")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutdown signal received, closing resources")

	tsrv.SetReady(false)
	doc, err := pipe.EndSession()
	if err != nil && err != pipeline.ErrNoSession {
		sugar.Warnf("end session: %v", err)
	}
	if err == nil {
		metrics.SessionCompleted()
		writeNotes(cfg, doc)
	}

	bot.LeaveVoice()
	if err := dg.Close(); err != nil {
		sugar.Warnf("discord close: %v", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := tsrv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("telemetry shutdown: %v", err)
	}

	if l := zap.L(); l != nil {
		_ = l.Sync()
	}
	sugar.Info("shutdown complete")
}

// writeNotes asks for meeting notes and stores them next to the transcript.
// Best effort: failures are logged, never fatal during shutdown.
func writeNotes(cfg *config.Config, doc captions.Document) {
	summarizer := summary.New(cfg.Summary)
	if !summarizer.Enabled() || len(doc.Transcriptions) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	notes, err := summarizer.Summarize(ctx, doc)
	if err != nil {
		logging.Warnw("summary failed", "err", err)
		return
	}
	if notes == "" {
		return
	}
	path := cfg.Caption.OutputDir + "/notes_" + time.Now().UTC().Format("20060102T150405Z") + ".md"
	if err := os.WriteFile(path, []byte(notes+"\n"), 0o644); err != nil {
		logging.Warnw("summary write failed", "path", path, "err", err)
		return
	}
	logging.Infow("meeting notes written", "path", path)
}
