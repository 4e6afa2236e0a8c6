package orchestrator

import (
	"context"
	"sync"
)

type queuedMessage struct {
	ctx   context.Context
	text  string
	reply chan queuedReply
}

type queuedReply struct {
	reply Reply
	err   error
}

// SessionQueue serialises the messages of one session. Only the goroutine
// holding the lock drains it.
type SessionQueue struct {
	sessionID string
	pending   []queuedMessage
	mu        sync.Mutex
	locked    bool
}

func NewSessionQueue(sessionID string) *SessionQueue {
	return &SessionQueue{sessionID: sessionID}
}

func (q *SessionQueue) Enqueue(msg queuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

func (q *SessionQueue) Dequeue() (queuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return queuedMessage{}, false
	}

	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

func (q *SessionQueue) TryLock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return false
	}
	q.locked = true
	return true
}

// Unlock releases the queue. It reports false, keeping the lock, when
// messages arrived after the last Dequeue so the caller keeps draining.
func (q *SessionQueue) Unlock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) > 0 {
		return false
	}
	q.locked = false
	return true
}

func (q *SessionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a goroutine is draining the queue or messages are
// waiting.
func (q *SessionQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.locked || len(q.pending) > 0
}
