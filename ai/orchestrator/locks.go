package orchestrator

import "sync"

// lockTable hands out one mutex per conversation so turns serialize
// end to end. Entries are reference counted and dropped when the last
// holder releases, keeping the table bounded by live conversations.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*convLock)}
}

func (t *lockTable) acquire(conversationID string) *convLock {
	t.mu.Lock()
	l, ok := t.locks[conversationID]
	if !ok {
		l = &convLock{}
		t.locks[conversationID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return l
}

func (t *lockTable) release(conversationID string, l *convLock) {
	l.mu.Unlock()

	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, conversationID)
	}
	t.mu.Unlock()
}
