package coach

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ConversationLogger records transcript events outside the record store.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one NDJSON line.
type ConversationLogEvent struct {
	ID            string         `json:"id"`
	Timestamp     string         `json:"ts"`
	PlayerEmail   string         `json:"player_email"`
	SessionNumber int            `json:"session_number"`
	Ordinal       int            `json:"ordinal,omitempty"`
	Channel       string         `json:"channel"`
	Direction     string         `json:"direction"`
	EventType     string         `json:"event_type"`
	ContentRaw    string         `json:"content_raw,omitempty"`
	Content       string         `json:"content,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// EventSessionCompleted is the last event of a session; its file is closed after it.
const EventSessionCompleted = "session_completed"

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NDJSONConversationLogger writes events asynchronously to one file per
// session and, optionally, to a global file.
type NDJSONConversationLogger struct {
	cfg     ConversationLogConfig
	logger  *slog.Logger
	queue   chan ConversationLogEvent
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64

	mu     sync.Mutex
	files  map[string]*os.File
	global *os.File
}

// NewConversationLogger creates a logger. A disabled config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &NDJSONConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	go l.run()
	return l, nil
}

// Log enqueues an event without blocking. Events are dropped when the queue is full.
func (l *NDJSONConversationLogger) Log(event ConversationLogEvent) {
	if l.closed.Load() {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}
	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Conversation log queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded.
func (l *NDJSONConversationLogger) Dropped() int64 { return l.dropped.Load() }

// Close drains the queue and closes every file.
func (l *NDJSONConversationLogger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.queue)
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for key, f := range l.files {
		errs = append(errs, f.Close())
		delete(l.files, key)
	}
	if l.global != nil {
		errs = append(errs, l.global.Close())
	}
	return errors.Join(errs...)
}

func (l *NDJSONConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("Failed to write conversation log event", "error", err, "player_email", event.PlayerEmail)
		}
		if event.EventType == EventSessionCompleted {
			l.closeSession(event.PlayerEmail, event.SessionNumber)
		}
	}
}

func (l *NDJSONConversationLogger) write(event ConversationLogEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.sessionFile(event.PlayerEmail, event.SessionNumber)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return err
	}
	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (l *NDJSONConversationLogger) sessionFile(email string, number int) (*os.File, error) {
	key := email + "#" + strconv.Itoa(number)
	if f, ok := l.files[key]; ok {
		return f, nil
	}
	dir := filepath.Join(l.cfg.Dir, safePathComponent(email))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("session-%d.ndjson", number))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	l.files[key] = f
	return f, nil
}

// closeSession releases the file handle of a finished session.
func (l *NDJSONConversationLogger) closeSession(email string, number int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := email + "#" + strconv.Itoa(number)
	if f, ok := l.files[key]; ok {
		_ = f.Close()
		delete(l.files, key)
	}
}

var (
	ansiPattern   = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafePathRun = regexp.MustCompile(`[^a-zA-Z0-9._@-]+`)
)

// cleanForReadability strips escape sequences and control characters and
// collapses whitespace.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func safePathComponent(s string) string {
	s = unsafePathRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}
