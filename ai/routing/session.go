package routing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/reveriehq/reverie/ai/moderation"
)

const (
	// DefaultLockCount is how many locked turns an explicit route holds
	// before it relaxes on its own.
	DefaultLockCount = 5

	// DefaultIdleTimeout is how long a session survives without a turn.
	DefaultIdleTimeout = 24 * time.Hour

	sweepInterval = 10 * time.Minute
)

// SessionState is the volatile per-conversation routing state. Values are
// copied out of the manager; mutate only through manager methods.
type SessionState struct {
	ConversationID string
	UserID         string

	AgeVerified   bool
	AgeVerifiedAt *time.Time

	CurrentRoute     Route
	LockRemaining    int
	ExplicitAttempts int // explicit requests seen before age verification
	LastLabel        moderation.Label
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Decision is the outcome of one state-machine step.
type Decision struct {
	Route         Route
	LockRemaining int
	LockHeld      bool // stayed on a locked route this turn
	LockBroken    bool // SAFE input released an active lock
}

// SessionManager owns the conversation → SessionState map. Per-conversation
// updates are serialized by the orchestrator's turn ordering; the map itself
// is safe for concurrent conversations.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState

	lockCount   int
	idleTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

func NewSessionManager(lockCount int, idleTimeout time.Duration) *SessionManager {
	if lockCount <= 0 {
		lockCount = DefaultLockCount
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	m := &SessionManager{
		sessions:    make(map[string]*SessionState),
		lockCount:   lockCount,
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// GetOrCreate returns a copy of the session, creating it when absent.
// ageVerified seeds a new session from the user's persisted verification.
func (m *SessionManager) GetOrCreate(conversationID, userID string, ageVerified bool) SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreateLocked(conversationID, userID, ageVerified)
	return *s
}

func (m *SessionManager) getOrCreateLocked(conversationID, userID string, ageVerified bool) *SessionState {
	if s, ok := m.sessions[conversationID]; ok {
		if ageVerified && !s.AgeVerified {
			now := time.Now()
			s.AgeVerified = true
			s.AgeVerifiedAt = &now
		}
		return s
	}
	now := time.Now()
	s := &SessionState{
		ConversationID: conversationID,
		UserID:         userID,
		AgeVerified:    ageVerified,
		CurrentRoute:   RouteNormal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ageVerified {
		s.AgeVerifiedAt = &now
	}
	m.sessions[conversationID] = s
	return s
}

// Advance runs one state-machine transition for the classified label and
// returns the route decision plus the updated session snapshot.
//
// Locked turns on romance/explicit candidates stay on the locked route and
// decrement the lock. A SAFE candidate breaks the lock immediately. Entering
// an explicit route arms the lock. Refusal candidates pass through with the
// lock untouched.
func (m *SessionManager) Advance(conversationID, userID string, label moderation.Label, ageVerified bool) (Decision, SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateLocked(conversationID, userID, ageVerified)
	candidate := RouteForLabel(label)

	var d Decision
	locked := s.LockRemaining > 0
	switch {
	case locked && (candidate == RouteExplicit || candidate == RouteFetish || candidate == RouteRomance):
		d.Route = s.CurrentRoute
		s.LockRemaining--
		d.LockHeld = true
	case locked && candidate == RouteNormal:
		s.LockRemaining = 0
		d.Route = RouteNormal
		d.LockBroken = true
	default:
		d.Route = candidate
		if candidate == RouteExplicit || candidate == RouteFetish {
			s.LockRemaining = m.lockCount
		}
	}

	// Refusals answer one turn; they are not a conversation mode. Keeping
	// CurrentRoute means a held lock resumes the explicit route afterwards.
	if d.Route != RouteRefusal && d.Route != RouteHardRefusal {
		s.CurrentRoute = d.Route
	}
	s.LastLabel = label
	s.UpdatedAt = time.Now()
	d.LockRemaining = s.LockRemaining
	return d, *s
}

// RecordExplicitAttempt counts an explicit request blocked by missing age
// verification, returning the running total.
func (m *SessionManager) RecordExplicitAttempt(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conversationID]
	if !ok {
		return 0
	}
	s.ExplicitAttempts++
	s.UpdatedAt = time.Now()
	return s.ExplicitAttempts
}

// MarkUserAgeVerified flags every live session belonging to the user.
// Verification arrives out-of-band, never from chat text.
func (m *SessionManager) MarkUserAgeVerified(userID string) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID && !s.AgeVerified {
			s.AgeVerified = true
			s.AgeVerifiedAt = &now
			s.UpdatedAt = now
		}
	}
}

// Get returns a copy of the session if present.
func (m *SessionManager) Get(conversationID string) (SessionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[conversationID]
	if !ok {
		return SessionState{}, false
	}
	return *s, true
}

// Drop removes a session, e.g. when its conversation is deleted.
func (m *SessionManager) Drop(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, conversationID)
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SweepIdle removes sessions idle longer than the configured timeout and
// returns how many were purged.
func (m *SessionManager) SweepIdle() int {
	cutoff := time.Now().Add(-m.idleTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged
}

func (m *SessionManager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if purged := m.SweepIdle(); purged > 0 {
				slog.Info("purged idle sessions", "count", purged, "remaining", m.Len())
			}
		case <-m.done:
			return
		}
	}
}

// Close stops the sweep loop.
func (m *SessionManager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}
