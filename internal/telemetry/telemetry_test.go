package telemetry

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/discord-caption-lab/internal/notify"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.SessionStarted()
	m.SessionCompleted()
	m.JobQueued()
	m.JobQueued()
	m.JobDropped()
	m.JobFailed()
	m.JobDone(100 * time.Millisecond)
	m.JobDone(300 * time.Millisecond)
	m.CaptionLine()
	m.CaptionLine()
	m.CaptionLine()

	s := m.Snapshot()
	if s.JobsQueued != 2 || s.JobsDropped != 1 || s.JobsFailed != 1 || s.JobsDone != 2 {
		t.Fatalf("counters wrong: %+v", s)
	}
	if s.AvgLatencyMs != 200 {
		t.Fatalf("avg latency = %v, want 200", s.AvgLatencyMs)
	}
	if s.CaptionLines != 3 {
		t.Fatalf("caption lines = %d", s.CaptionLines)
	}
	if s.SessionsStarted != 1 || s.SessionsCompleted != 1 {
		t.Fatalf("session counters wrong: %+v", s)
	}
	if s.LastCaptionAt == "" {
		t.Fatal("last caption time not recorded")
	}
	for _, w := range []string{"30s", "1m", "5m", "15m", "30m", "1h"} {
		if s.LinesByWindow[w] != 3 {
			t.Fatalf("window %s = %d, want 3", w, s.LinesByWindow[w])
		}
	}
}

func TestReadyzFlips(t *testing.T) {
	s := NewServer(":0", NewMetrics(), notify.New())

	w := httptest.NewRecorder()
	s.handleReadyz(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != 503 {
		t.Fatalf("readyz before ready = %d, want 503", w.Code)
	}

	s.SetReady(true)
	w = httptest.NewRecorder()
	s.handleReadyz(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != 200 {
		t.Fatalf("readyz after ready = %d, want 200", w.Code)
	}
}

func TestLivez(t *testing.T) {
	s := NewServer(":0", NewMetrics(), notify.New())
	w := httptest.NewRecorder()
	s.handleLivez(w, httptest.NewRequest("GET", "/livez", nil))
	if w.Code != 200 {
		t.Fatalf("livez = %d", w.Code)
	}
}

func TestMetricsEndpointServesJSON(t *testing.T) {
	m := NewMetrics()
	m.CaptionLine()
	s := NewServer(":0", m, notify.New())

	w := httptest.NewRecorder()
	s.handleMetrics(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Fatalf("metrics = %d", w.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("metrics body not JSON: %v", err)
	}
	if snap.CaptionLines != 1 {
		t.Fatalf("caption lines = %d", snap.CaptionLines)
	}
}
