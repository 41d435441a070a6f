package captions

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func openTestSession(t *testing.T) (*Store, string) {
	t.Helper()
	s := NewStore(t.TempDir())
	id := s.OpenSession("test call", time.Now())
	return s, id
}

func TestAppendPersistsDocument(t *testing.T) {
	s, id := openTestSession(t)

	e := Entry{
		Speaker:   KnownSpeaker("42", "alice"),
		Comment:   "hello there",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.Append(id, e); err != nil {
		t.Fatalf("append: %v", err)
	}

	path, err := s.Path(id)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	if len(doc.Transcriptions) != 1 {
		t.Fatalf("expected 1 entry on disk, got %d", len(doc.Transcriptions))
	}
	if doc.Transcriptions[0].Comment != "hello there" {
		t.Fatalf("wrong comment: %q", doc.Transcriptions[0].Comment)
	}
	if doc.Transcriptions[0].Speaker.ID == nil || *doc.Transcriptions[0].Speaker.ID != "42" {
		t.Fatalf("speaker id lost: %+v", doc.Transcriptions[0].Speaker)
	}
}

func TestRelabelRewritesOnlyMatchingPlaceholders(t *testing.T) {
	s, id := openTestSession(t)

	entries := []Entry{
		{Speaker: PlaceholderSpeaker("Speaker 1"), Comment: "one"},
		{Speaker: KnownSpeaker("7", "bob"), Comment: "two"},
		{Speaker: PlaceholderSpeaker("Speaker 1"), Comment: "three"},
		{Speaker: PlaceholderSpeaker("Speaker 2"), Comment: "four"},
	}
	for _, e := range entries {
		if err := s.Append(id, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := s.Relabel(id, "Speaker 1", "42", "alice")
	if err != nil {
		t.Fatalf("relabel: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries relabeled, got %d", n)
	}

	doc, err := s.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for i, want := range []string{"alice", "bob", "alice", "Speaker 2"} {
		if got := doc.Transcriptions[i].Speaker.Name; got != want {
			t.Fatalf("entry %d speaker = %q, want %q", i, got, want)
		}
	}
	if doc.Transcriptions[0].Speaker.IsPlaceholder() {
		t.Fatal("relabeled entry still a placeholder")
	}
	if !doc.Transcriptions[3].Speaker.IsPlaceholder() {
		t.Fatal("unrelated placeholder was touched")
	}

	// idempotent: nothing left to match
	n, err = s.Relabel(id, "Speaker 1", "42", "alice")
	if err != nil || n != 0 {
		t.Fatalf("second relabel = (%d, %v), want (0, nil)", n, err)
	}
}

func TestCloseFinalizesAndRejectsFurtherWrites(t *testing.T) {
	s, id := openTestSession(t)
	if err := s.Append(id, Entry{Speaker: PlaceholderSpeaker("Speaker 1"), Comment: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	doc, err := s.Close(id, time.Now().Add(90*time.Second))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if doc.Metadata.EndedAt == "" {
		t.Fatal("ended_at not set")
	}
	if doc.Metadata.DurationSeconds < 89 || doc.Metadata.DurationSeconds > 92 {
		t.Fatalf("duration_seconds = %v", doc.Metadata.DurationSeconds)
	}
	if doc.Metadata.DurationFormatted != "00:01:30" {
		t.Fatalf("duration_formatted = %q", doc.Metadata.DurationFormatted)
	}

	if err := s.Append(id, Entry{Comment: "late"}); err != ErrSessionClosed {
		t.Fatalf("append after close = %v, want ErrSessionClosed", err)
	}
	if _, err := s.Relabel(id, "Speaker 1", "42", "alice"); err != ErrSessionClosed {
		t.Fatalf("relabel after close = %v, want ErrSessionClosed", err)
	}
	if _, err := s.Close(id, time.Now()); err != ErrSessionClosed {
		t.Fatalf("double close = %v, want ErrSessionClosed", err)
	}
}

func TestAppendSurvivesWriteFailureAndRecovers(t *testing.T) {
	s, id := openTestSession(t)
	path, err := s.Path(id)
	if err != nil {
		t.Fatalf("path: %v", err)
	}

	// make the document path unwritable: a directory cannot be renamed over
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove document: %v", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("block path: %v", err)
	}

	if err := s.Append(id, Entry{Speaker: PlaceholderSpeaker("Speaker 1"), Comment: "kept"}); err == nil {
		t.Fatal("append did not surface the write failure")
	}

	// the entry is retained in memory and the session stays open
	doc, err := s.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(doc.Transcriptions) != 1 || doc.Transcriptions[0].Comment != "kept" {
		t.Fatalf("entry lost on write failure: %+v", doc.Transcriptions)
	}

	// once the path is writable again, the next mutation catches the file up
	if err := os.Remove(path); err != nil {
		t.Fatalf("unblock path: %v", err)
	}
	if err := s.Append(id, Entry{Speaker: PlaceholderSpeaker("Speaker 1"), Comment: "second"}); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recovered document: %v", err)
	}
	var onDisk Document
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("recovered document not valid JSON: %v", err)
	}
	if len(onDisk.Transcriptions) != 2 {
		t.Fatalf("disk has %d entries after recovery, want both", len(onDisk.Transcriptions))
	}
}

func TestUnknownSession(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Append("nope", Entry{}); err != ErrSessionNotFound {
		t.Fatalf("append = %v, want ErrSessionNotFound", err)
	}
	if _, err := s.Relabel("nope", "x", "y", "z"); err != ErrSessionNotFound {
		t.Fatalf("relabel = %v, want ErrSessionNotFound", err)
	}
	if _, err := s.Close("nope", time.Now()); err != ErrSessionNotFound {
		t.Fatalf("close = %v, want ErrSessionNotFound", err)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{61 * time.Minute, "01:01:00"},
		{-5 * time.Second, "00:00:00"},
	}
	for _, c := range cases {
		if got := formatDuration(c.d); got != c.want {
			t.Fatalf("formatDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
