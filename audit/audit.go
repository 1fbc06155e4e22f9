// Package audit writes the routing audit log: one line-delimited JSON
// record per classified message, appended to a local file.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Action is what the orchestrator did with a classified message.
type Action string

const (
	ActionGenerate         Action = "generate"
	ActionGenerateFallback Action = "generate_fallback"
	ActionRefuse           Action = "refuse"
	ActionAgeVerify        Action = "age_verify_required"
)

// maxInputRunes bounds how much of the user message a record keeps.
const maxInputRunes = 200

// Record is one audit entry. Input is truncated before writing; the full
// message lives in the conversation log, not here.
type Record struct {
	Timestamp      int64    `json:"ts"`
	UserID         string   `json:"user_id"`
	ConversationID string   `json:"conversation_id"`
	Input          string   `json:"input"`
	Label          string   `json:"label"`
	Confidence     float64  `json:"confidence"`
	Indicators     []string `json:"indicators,omitempty"`
	Route          string   `json:"route"`
	RouteLocked    bool     `json:"route_locked"`
	LockRemaining  int      `json:"lock_remaining,omitempty"`
	AgeVerified    bool     `json:"age_verified"`
	Action         Action   `json:"action"`
	Reason         string   `json:"reason,omitempty"`
}

// Logger appends records to a single file. A nil *Logger discards
// records, so callers need no enabled check.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates or opens the audit log for appending, creating parent
// directories as needed.
func Open(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{file: file}, nil
}

// Write appends one record as a JSON line. Timestamp defaults to now,
// input is truncated to its first runes.
func (l *Logger) Write(rec Record) error {
	if l == nil {
		return nil
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	rec.Input = truncateRunes(rec.Input, maxInputRunes)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("audit log closed")
	}
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// Close flushes and closes the log file. Further writes fail.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
