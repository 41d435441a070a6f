package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/discord-caption-lab/internal/logging"
)

// whisperSampleRate is what the STT service expects; higher-rate audio is
// downsampled before upload.
const whisperSampleRate = 16000

const whisperAttempts = 3

// Engine produces text from a chunk of mono PCM speech. An empty string with
// a nil error means the engine heard nothing worth transcribing.
type Engine interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int, correlationID string) (string, error)
}

// WhisperClient posts WAV-wrapped chunks to a whisper-compatible HTTP
// service and parses the transcription response.
type WhisperClient struct {
	URL      string
	Language string
	Client   *http.Client
}

// NewWhisperClient builds a client for the given endpoint. timeout bounds
// each individual upload attempt.
func NewWhisperClient(url, language string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		URL:      url,
		Language: language,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads the chunk, retrying transient failures with exponential
// backoff. Server 5xx responses are retried; 4xx responses are not. Blank
// audio sentinels from the model are normalized to an empty string.
func (w *WhisperClient) Transcribe(ctx context.Context, pcm []int16, sampleRate int, correlationID string) (string, error) {
	if sampleRate > whisperSampleRate {
		pcm = Downsample(pcm, sampleRate, whisperSampleRate)
		sampleRate = whisperSampleRate
	}
	wav := buildWAV(pcmToBytes(pcm), sampleRate, 1, 16)

	var lastErr error
	for i := 0; i < whisperAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(200*(1<<(i-1))) * time.Millisecond):
			}
		}
		text, retry, err := w.post(ctx, wav, correlationID)
		if err == nil {
			return normalizeText(text), nil
		}
		lastErr = err
		if !retry {
			return "", err
		}
		logging.Debugw("whisper: attempt failed", "attempt", i+1, "err", err, "correlation_id", correlationID)
	}
	return "", fmt.Errorf("whisper: %d attempts failed: %w", whisperAttempts, lastErr)
}

func (w *WhisperClient) post(ctx context.Context, wav []byte, correlationID string) (text string, retry bool, err error) {
	url := w.URL
	if w.Language != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "language=" + w.Language
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wav))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "audio/wav")
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()
	body, rerr := io.ReadAll(resp.Body)
	if rerr != nil {
		return "", true, rerr
	}
	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("whisper returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("whisper returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if jerr := json.Unmarshal(body, &parsed); jerr == nil && parsed.Text != "" {
		return parsed.Text, false, nil
	}
	// some servers reply with the bare text
	return string(body), false, nil
}

// normalizeText trims whitespace and maps the model's blank-audio sentinels
// to an empty string.
func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "[blank_audio]", "(blank_audio)", "[silence]":
		return ""
	}
	return s
}

func pcmToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// buildWAV wraps raw PCM16LE bytes in a minimal RIFF/WAVE header.
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)
	return buf.Bytes()
}
