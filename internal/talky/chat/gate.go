// Package chat implements the conversational message pipeline: the
// per-conversation turn gate, the role-based rate limiter, the history
// summarizer, and the orchestrating pipeline that ties them to the store
// and the external AI responder.
package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Gate serializes turns within a conversation. At most one turn may be in
// flight per conversation; a second concurrent turn is rejected immediately
// rather than queued, so message order always matches acceptance order and
// contended callers fail fast instead of waiting.
//
// Gate is safe for concurrent use from multiple goroutines.
type Gate struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewGate returns an empty Gate.
func NewGate() *Gate {
	return &Gate{active: make(map[uuid.UUID]struct{})}
}

// TryEnter atomically marks the conversation busy. Returns false when a turn
// is already in flight; the caller must not touch the conversation in that
// case.
func (g *Gate) TryEnter(conversationID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[conversationID]; busy {
		return false
	}
	g.active[conversationID] = struct{}{}
	return true
}

// Leave clears the busy mark. It is idempotent: leaving a conversation with
// no active turn is a no-op, so a deferred Leave on every exit path is safe.
func (g *Gate) Leave(conversationID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, conversationID)
}

// InFlight reports whether a turn is currently active on the conversation.
func (g *Gate) InFlight(conversationID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[conversationID]
	return busy
}
