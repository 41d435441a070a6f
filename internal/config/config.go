package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the caption bot.
type Config struct {
	Discord Discord
	Caption Caption
	Whisper Whisper
	Summary Summary
	HTTP    HTTP
}

// Discord holds gateway and voice connection settings.
type Discord struct {
	Token          string
	GuildID        string
	VoiceChannelID string
}

// Caption holds pipeline settings for buffering and the session document.
type Caption struct {
	OutputDir     string
	ChunkDuration time.Duration
	SampleRate    int
	SilenceFlush  time.Duration
	QueueSize     int
	Workers       int
}

// Whisper holds settings for the STT HTTP collaborator.
type Whisper struct {
	URL      string
	Language string
	Timeout  time.Duration
}

// Summary holds settings for optional post-session meeting notes.
type Summary struct {
	APIKey   string
	Model    string
	Endpoint string
}

// HTTP holds the telemetry server settings.
type HTTP struct {
	Addr string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Discord: Discord{
			Token:          os.Getenv("DISCORD_BOT_TOKEN"),
			GuildID:        os.Getenv("GUILD_ID"),
			VoiceChannelID: os.Getenv("VOICE_CHANNEL_ID"),
		},
		Caption: Caption{
			OutputDir:     getEnvString("CAPTION_OUTPUT_DIR", "captions"),
			ChunkDuration: getEnvDuration("CAPTION_CHUNK_DURATION", 3*time.Second),
			SampleRate:    getEnvInt("DECODE_SAMPLE_RATE", 48000),
			SilenceFlush:  getEnvDuration("CAPTION_SILENCE_FLUSH", 1*time.Second),
			QueueSize:     getEnvInt("CAPTION_QUEUE_SIZE", 64),
			Workers:       getEnvInt("CAPTION_WORKERS", 2),
		},
		Whisper: Whisper{
			URL:      getEnvString("WHISPER_URL", "http://localhost:9000/transcribe"),
			Language: os.Getenv("WHISPER_LANGUAGE"),
			Timeout:  getEnvDuration("WHISPER_TIMEOUT", 30*time.Second),
		},
		Summary: Summary{
			APIKey:   os.Getenv("OPENAI_API_KEY"),
			Model:    getEnvString("OPENAI_MODEL", "gpt-4o-mini"),
			Endpoint: getEnvString("OPENAI_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		},
		HTTP: HTTP{
			Addr: getEnvString("HTTP_ADDR", ":8900"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Caption.ChunkDuration < 500*time.Millisecond {
		return fmt.Errorf("chunk duration too small: %s", c.Caption.ChunkDuration)
	}
	if c.Caption.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.Caption.SampleRate)
	}
	if c.Caption.SilenceFlush <= 0 {
		return fmt.Errorf("invalid silence flush: %s", c.Caption.SilenceFlush)
	}
	if c.Caption.QueueSize <= 0 {
		return fmt.Errorf("invalid queue size: %d", c.Caption.QueueSize)
	}
	if c.Caption.Workers <= 0 {
		return fmt.Errorf("invalid worker count: %d", c.Caption.Workers)
	}
	if c.Whisper.URL == "" {
		return fmt.Errorf("whisper URL must be provided")
	}
	return nil
}

// ChunkSamples derives the flush threshold from chunk duration and sample rate.
func (c *Config) ChunkSamples() int {
	samples := c.Caption.ChunkDuration.Seconds() * float64(c.Caption.SampleRate)
	if samples < 1 {
		return 1
	}
	return int(samples + 0.5)
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
