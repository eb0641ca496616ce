package coach

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    filepath.Join(dir, "all.ndjson"),
		QueueSize:     16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(ConversationLogEvent{
		PlayerEmail:   "alex@example.com",
		SessionNumber: 3,
		Ordinal:       1,
		Channel:       "chat",
		Direction:     "inbound",
		EventType:     "chat_player_message",
		ContentRaw:    "my\tforehand   keeps\x1b[31m netting",
	})

	path := filepath.Join(dir, "alex@example.com", "session-3.ndjson")
	line := waitForLogLine(t, path)
	var got ConversationLogEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ID == "" || got.Timestamp == "" {
		t.Fatalf("expected id and timestamp to be filled: %+v", got)
	}
	if got.Content != "my forehand keeps netting" {
		t.Fatalf("unexpected cleaned content %q", got.Content)
	}
	waitForLogLine(t, filepath.Join(dir, "all.ndjson"))
}

func TestConversationLoggerClosesFinishedSessionFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cl, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	l := cl.(*NDJSONConversationLogger)

	l.Log(ConversationLogEvent{PlayerEmail: "a@example.com", SessionNumber: 1, EventType: "chat_player_message", ContentRaw: "hi"})
	l.Log(ConversationLogEvent{PlayerEmail: "a@example.com", SessionNumber: 1, EventType: EventSessionCompleted})
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a@example.com", "session-1.ndjson"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if n := len(strings.Split(strings.TrimSpace(string(data)), "\n")); n != 2 {
		t.Fatalf("expected 2 lines, got %d", n)
	}
	if len(l.files) != 0 {
		t.Fatalf("expected no open files, got %d", len(l.files))
	}
}

func TestDisabledConversationLoggerIsNoop(t *testing.T) {
	t.Parallel()

	l, err := NewConversationLogger(ConversationLogConfig{}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if _, ok := l.(noopConversationLogger); !ok {
		t.Fatalf("expected noop logger, got %T", l)
	}
	l.Log(ConversationLogEvent{EventType: "x"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") {
		t.Fatalf("expected ANSI sequence to be stripped: %q", clean)
	}
	if !strings.Contains(clean, "error plain") {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func TestSafePathComponent(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"alex@example.com": "alex@example.com",
		"../../etc/passwd": "_.._etc_passwd",
		"..":               "unknown",
		"":                 "unknown",
	}
	for in, want := range tests {
		if got := safePathComponent(in); got != want {
			t.Errorf("safePathComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
