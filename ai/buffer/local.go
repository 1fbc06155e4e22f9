package buffer

import (
	"context"
	"sync"
	"time"
)

// Local keeps conversation windows in process memory with a sliding window.
// Thread-safe for concurrent access.
type Local struct {
	ctx           context.Context
	conversations map[string]*window
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	maxSize       int
	ttl           time.Duration
	mu            sync.RWMutex
}

type window struct {
	lastAccess time.Time
	summary    string
	messages   []Entry
}

// NewLocal creates a process-local buffer. maxSize bounds the number of
// messages kept per conversation (default 10); ttl bounds idle lifetime
// (default 24h).
func NewLocal(maxSize int, ttl time.Duration) *Local {
	if maxSize <= 0 {
		maxSize = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		conversations: make(map[string]*window),
		maxSize:       maxSize,
		ttl:           ttl,
		ctx:           ctx,
		cancel:        cancel,
	}
	l.wg.Add(1)
	go l.cleanupLoop()
	return l
}

// Close stops the cleanup goroutine and releases resources.
func (l *Local) Close() {
	l.cancel()
	l.wg.Wait()
}

func (l *Local) Append(_ context.Context, conversationID, role, content string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.conversations[conversationID]
	if !exists {
		w = &window{messages: make([]Entry, 0, l.maxSize)}
		l.conversations[conversationID] = w
	}

	w.messages = append(w.messages, Entry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	w.lastAccess = time.Now()

	var trimmed []Entry
	if len(w.messages) > l.maxSize {
		overflow := len(w.messages) - l.maxSize
		trimmed = make([]Entry, overflow)
		copy(trimmed, w.messages[:overflow])
		w.messages = w.messages[overflow:]
	}
	return trimmed
}

func (l *Local) Recent(_ context.Context, conversationID string, n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.conversations[conversationID]
	if !exists || len(w.messages) == 0 {
		return []Entry{}
	}

	// Reads keep the conversation alive.
	w.lastAccess = time.Now()

	messages := w.messages
	if n > 0 && n < len(messages) {
		messages = messages[len(messages)-n:]
	}

	result := make([]Entry, len(messages))
	copy(result, messages)
	return result
}

func (l *Local) Summary(_ context.Context, conversationID string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if w, exists := l.conversations[conversationID]; exists {
		return w.summary
	}
	return ""
}

func (l *Local) SetSummary(_ context.Context, conversationID, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.conversations[conversationID]
	if !exists {
		w = &window{}
		l.conversations[conversationID] = w
	}
	w.summary = text
	w.lastAccess = time.Now()
}

func (l *Local) Reset(_ context.Context, conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, exists := l.conversations[conversationID]; exists {
		w.messages = nil
		w.lastAccess = time.Now()
	}
}

func (l *Local) Clear(_ context.Context, conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conversations, conversationID)
}

// ConversationCount returns the number of live conversation windows.
func (l *Local) ConversationCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.conversations)
}

func (l *Local) CleanupExpired(_ context.Context) int {
	now := time.Now()
	maxBatch := 100
	totalCleaned := 0

	// Collect and delete in batches to keep lock hold times short.
	for {
		toDelete := l.findExpired(now, maxBatch)
		if len(toDelete) == 0 {
			break
		}

		l.mu.Lock()
		for _, key := range toDelete {
			delete(l.conversations, key)
		}
		l.mu.Unlock()

		totalCleaned += len(toDelete)
		if totalCleaned >= 1000 {
			break
		}
	}
	return totalCleaned
}

func (l *Local) findExpired(now time.Time, limit int) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]string, 0, limit)
	cutoff := now.Add(-l.ttl)

	for conversationID, w := range l.conversations {
		if w.lastAccess.Before(cutoff) {
			result = append(result, conversationID)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

func (l *Local) cleanupLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.CleanupExpired(l.ctx)
		}
	}
}
