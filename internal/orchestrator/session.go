package orchestrator

import (
	"sync"
	"time"

	"github.com/mtzanidakis/relay/internal/handoff"
	"github.com/mtzanidakis/relay/internal/metrics"
)

type Session struct {
	ID           string                `json:"id"`
	Conversation *handoff.Conversation `json:"conversation"`
	StartedAt    time.Time             `json:"started_at"`
	LastActive   time.Time             `json:"last_active"`
}

// SessionTracker holds the in-memory conversations. A session's
// Conversation is only touched by the goroutine draining its queue.
type SessionTracker struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	now      func() time.Time
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// GetOrCreate returns the session, creating it with init when missing, and
// marks it active.
func (t *SessionTracker) GetOrCreate(id string, init func() *handoff.Conversation) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.LastActive = t.now()
		return s
	}
	now := t.now()
	s := &Session{ID: id, Conversation: init(), StartedAt: now, LastActive: now}
	t.sessions[id] = s
	metrics.ActiveSessions.Set(float64(len(t.sessions)))
	return s
}

func (t *SessionTracker) Get(id string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

func (t *SessionTracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
	metrics.ActiveSessions.Set(float64(len(t.sessions)))
}

// RemoveIfIdle removes the session when it has been idle for longer than
// timeout and reports whether it did.
func (t *SessionTracker) RemoveIfIdle(id string, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok || t.now().Sub(s.LastActive) <= timeout {
		return false
	}
	delete(t.sessions, id)
	metrics.ActiveSessions.Set(float64(len(t.sessions)))
	return true
}

func (t *SessionTracker) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.LastActive = t.now()
	}
}

func (t *SessionTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *SessionTracker) ListIdle(timeout time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var idle []string
	now := t.now()
	for id, s := range t.sessions {
		if now.Sub(s.LastActive) > timeout {
			idle = append(idle, id)
		}
	}
	return idle
}
