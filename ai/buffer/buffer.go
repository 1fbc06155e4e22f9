// Package buffer holds the short-term conversation window: the recent
// messages of each conversation plus an optional rolling summary.
package buffer

import (
	"context"
	"time"
)

// Entry is one buffered message.
type Entry struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Buffer is the short-term memory contract. All operations are safe for
// concurrent callers.
type Buffer interface {
	// Append adds a message and trims the window to its bound. It returns
	// the entries that fell out of the window, oldest first.
	Append(ctx context.Context, conversationID, role, content string) []Entry

	// Recent returns a snapshot copy of the last n messages. n <= 0 means
	// the whole window.
	Recent(ctx context.Context, conversationID string, n int) []Entry

	// Summary returns the rolling summary, or "".
	Summary(ctx context.Context, conversationID string) string

	// SetSummary replaces the rolling summary.
	SetSummary(ctx context.Context, conversationID, text string)

	// Reset drops the messages but preserves the summary.
	Reset(ctx context.Context, conversationID string)

	// Clear drops both messages and summary.
	Clear(ctx context.Context, conversationID string)

	// CleanupExpired drops conversations idle beyond the TTL and returns
	// how many were dropped.
	CleanupExpired(ctx context.Context) int

	// Close releases background resources.
	Close()
}
