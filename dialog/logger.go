// Package dialog is the append-only per-turn log. One JSONL file per
// provider at {log_dir}/{provider}.jsonl, rotated at 10 MiB with up to 5
// backups. Writes are fail-soft: a log failure never reaches the caller.
package dialog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"goa.design/clue/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cuber-it/heinzel-ki/model"
)

// Entry is one dialog log line.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Provider  string `json:"provider"`
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	HeinzelID string `json:"heinzel_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Data      any    `json:"data"`
}

// Entry types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeError    = "error"
)

// Rotation policy.
const (
	maxSizeMB  = 10
	maxBackups = 5
)

// Logger writes dialog entries for one provider. The enabled flag is
// run-time togglable; while disabled no file is opened or written.
type Logger struct {
	provider string
	dir      string

	mu      sync.Mutex
	enabled bool
	out     *lumberjack.Logger
}

// NewLogger builds a dialog logger. The file is opened lazily on first
// write.
func NewLogger(provider, dir string, enabled bool) *Logger {
	return &Logger{provider: provider, dir: dir, enabled: enabled}
}

// Enabled reports the current state of the logging flag.
func (l *Logger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetEnabled toggles dialog logging at run time.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	l.enabled = on
	l.mu.Unlock()
}

// Path returns the current log file path.
func (l *Logger) Path() string {
	return filepath.Join(l.dir, l.provider+".jsonl")
}

// Request logs an incoming request payload.
func (l *Logger) Request(ctx context.Context, endpoint string, payload any, rc model.RequestContext) {
	l.write(ctx, TypeRequest, map[string]any{"endpoint": endpoint, "payload": payload}, rc)
}

// Response logs a completed response.
func (l *Logger) Response(ctx context.Context, endpoint string, status int, content any, rc model.RequestContext) {
	l.write(ctx, TypeResponse, map[string]any{"endpoint": endpoint, "status": status, "content": content}, rc)
}

// Error logs a failed turn.
func (l *Logger) Error(ctx context.Context, endpoint, errMsg string, rc model.RequestContext) {
	l.write(ctx, TypeError, map[string]any{"endpoint": endpoint, "error": errMsg}, rc)
}

// Close releases the underlying file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

func (l *Logger) write(ctx context.Context, entryType string, data any, rc model.RequestContext) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	if l.out == nil {
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			log.Errorf(ctx, err, "dialog: create log dir %s", l.dir)
			return
		}
		l.out = &lumberjack.Logger{
			Filename:   l.Path(),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		}
	}
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Provider:  l.provider,
		Type:      entryType,
		SessionID: rc.SessionID,
		HeinzelID: rc.HeinzelID,
		TaskID:    rc.TaskID,
		Data:      data,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		log.Errorf(ctx, err, "dialog: marshal entry")
		return
	}
	if _, err := l.out.Write(append(line, '\n')); err != nil {
		log.Errorf(ctx, err, "dialog: write entry")
	}
}
