package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ConversationLogConfig controls where conversation transcripts are written.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one NDJSON line of a conversation transcript.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events off the request path.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NopConversationLogger returns a logger that discards everything.
func NopConversationLogger() ConversationLogger {
	return noopConversationLogger{}
}

type fileConversationLogger struct {
	cfg    ConversationLogConfig
	queue  chan ConversationLogEvent
	files  map[string]*os.File
	logger *slog.Logger
	wg     sync.WaitGroup

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewConversationLogger starts an asynchronous NDJSON writer.
// Events are written to Dir/<user>/<session>.ndjson and, when enabled, to GlobalPath.
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
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		files:  make(map[string]*os.File),
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues an event; it never blocks the caller.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID,
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

func (l *fileConversationLogger) run() {
	defer l.wg.Done()
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to marshal conversation log event", "error", err)
			continue
		}
		line = append(line, '\n')

		path := filepath.Join(l.cfg.Dir, safeSegment(event.UserID), safeSegment(event.SessionID)+".ndjson")
		if err := l.write(path, line); err != nil {
			l.logger.Warn("failed to write conversation log", "path", path, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := l.write(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("failed to write global conversation log", "path", l.cfg.GlobalPath, "error", err)
			}
		}
	}
}

func (l *fileConversationLogger) write(path string, line []byte) error {
	f, ok := l.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		opened, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		l.files[path] = opened
		f = opened
	}
	_, err := f.Write(line)
	return err
}

// Close drains the queue and closes every open file.
func (l *fileConversationLogger) Close() error {
	var errs []error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()

		l.wg.Wait()
		for path, f := range l.files {
			if err := f.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", path, err))
			}
		}
	})
	return errors.Join(errs...)
}

var (
	ansiPattern    = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	spacePattern   = regexp.MustCompile(`[ \t]+`)
	segmentPattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r", "")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func safeSegment(s string) string {
	s = segmentPattern.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}
