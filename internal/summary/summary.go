// Package summary turns a finished session transcript into short meeting
// notes via an OpenAI-compatible chat completions endpoint.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/discord-caption-lab/internal/captions"
	"github.com/discord-caption-lab/internal/config"
	"github.com/discord-caption-lab/internal/logging"
)

const systemPrompt = "You summarize voice call transcripts. Produce concise meeting notes: main topics, decisions, and action items. Keep speaker attributions."

// Summarizer posts transcripts for summarization. Disabled when no API key
// is configured.
type Summarizer struct {
	cfg    config.Summary
	client *http.Client
}

// New builds a summarizer from config.
func New(cfg config.Summary) *Summarizer {
	return &Summarizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Enabled reports whether an API key is configured.
func (s *Summarizer) Enabled() bool { return s.cfg.APIKey != "" }

// Summarize flattens the transcript and requests meeting notes. Transcripts
// with no entries return an empty summary without a network call.
func (s *Summarizer) Summarize(ctx context.Context, doc captions.Document) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("summary: no API key configured")
	}
	transcript := Flatten(doc)
	if transcript == "" {
		return "", nil
	}

	reqBody := map[string]interface{}{
		"model": s.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": transcript},
		},
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	resp, err := s.postWithRetries(ctx, b, 2)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		logging.Warnw("summary: endpoint returned non-2xx", "status", resp.StatusCode)
		return "", fmt.Errorf("summary endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("summary response had no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func (s *Summarizer) postWithRetries(ctx context.Context, body []byte, attempts int) (*http.Response, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(200*(1<<(i-1))) * time.Millisecond):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

		resp, err := s.client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err == nil {
			_, _ = io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		logging.Debugw("summary: attempt failed", "attempt", i+1, "err", lastErr)
	}
	return nil, fmt.Errorf("summary: %d attempts failed: %w", attempts, lastErr)
}

// Flatten renders the transcript as "Speaker: text" lines, one per entry.
func Flatten(doc captions.Document) string {
	var b strings.Builder
	for _, e := range doc.Transcriptions {
		if e.Comment == "" {
			continue
		}
		b.WriteString(e.Speaker.Name)
		b.WriteString(": ")
		b.WriteString(e.Comment)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
