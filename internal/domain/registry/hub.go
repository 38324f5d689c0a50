/*
Package registry holds the per-instance session table.

Key architectural concepts:
  - Single-writer sessions: every websocket gets a mailbox and one pump
    goroutine, so heartbeats, direct delivery and pending-queue flushes can
    never interleave writes on the same socket.
  - One lock, one unit: the user->session map is guarded by a single mutex;
    per-session activity timestamps are atomics updated from reader/writer
    goroutines.
  - Replacement semantics: a user reconnecting to this instance displaces the
    previous session instead of coexisting with it.
*/
package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub is the local session table: user id -> live websocket session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	config struct {
		mailboxSize  int
		writeTimeout time.Duration
	}

	startedAt time.Time
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions:  make(map[string]*Session),
		startedAt: time.Now(),
	}
	h.config.mailboxSize = 256
	h.config.writeTimeout = 10 * time.Second
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open wires a websocket into a new session and registers it, displacing any
// previous session for the same user. The displaced session (if any) is
// closed before the new one becomes visible.
func (h *Hub) Open(conn *websocket.Conn, userID string, onDead func(s *Session)) *Session {
	s := newSession(conn, userID, h.config.mailboxSize, h.config.writeTimeout, onDead)

	h.mu.Lock()
	old := h.sessions[userID]
	h.sessions[userID] = s
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return s
}

// Remove drops the user's session if (and only if) it is still the given
// one, so a displaced session cannot unregister its replacement. A nil
// session removes unconditionally. Idempotent.
func (h *Hub) Remove(userID string, s *Session) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur, ok := h.sessions[userID]
	if !ok {
		return nil
	}
	if s != nil && cur != s {
		return nil
	}
	delete(h.sessions, userID)
	return cur
}

func (h *Hub) Get(userID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[userID]
	return s, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.sessions))
	for u := range h.sessions {
		users = append(users, u)
	}
	return users
}

// Snapshot copies the table so callers can iterate without holding the lock
// across websocket writes.
func (h *Hub) Snapshot() map[string]*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*Session, len(h.sessions))
	for u, s := range h.sessions {
		out[u] = s
	}
	return out
}

func (h *Hub) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

// Shutdown closes every live session. Used on graceful stop only.
func (h *Hub) Shutdown() {
	for _, s := range h.Snapshot() {
		s.Close()
	}
	h.mu.Lock()
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()
}
