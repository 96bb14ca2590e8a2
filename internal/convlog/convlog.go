// Package convlog writes per-tab conversation transcripts as NDJSON.
package convlog

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
	"unicode"
)

// Directions and event types written to the log.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	EventUserTurn      = "user_turn"
	EventAssistantTurn = "assistant_turn"
	EventBackendCall   = "backend_call"
	EventBackendError  = "backend_error"
	EventHostAction    = "host_action"
)

// Config controls the logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one transcript line.
type Event struct {
	Timestamp  string         `json:"ts"`
	TabID      string         `json:"tab_id"`
	Persona    string         `json:"persona,omitempty"`
	Page       string         `json:"page,omitempty"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records conversation events.
type Logger interface {
	Log(event Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(Event) {}

// Close implements Logger.
func (Nop) Close() error { return nil }

// FileLogger appends events to <dir>/<tab_id>.ndjson from a background goroutine.
type FileLogger struct {
	dir    string
	queue  chan Event
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

var tabFileRe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// New creates a logger. A disabled config yields Nop.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1000
	}
	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log queues event. It never blocks; overflow is dropped with a warning.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = CleanForReadability(event.ContentRaw)
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event", "tab_id", event.TabID, "event_type", event.EventType)
	}
}

// Close drains the queue and stops the writer.
func (l *FileLogger) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

func (l *FileLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("Failed to write conversation log", "tab_id", event.TabID, "error", err)
		}
	}
}

func (l *FileLogger) write(event Event) error {
	name := tabFileRe.ReplaceAllString(event.TabID, "_")
	if name == "" {
		name = "unknown"
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(l.dir, name+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	_, err = f.Write(append(line, '\n'))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// CleanForReadability drops control characters and collapses whitespace.
func CleanForReadability(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, raw)
	return strings.Join(strings.Fields(cleaned), " ")
}
