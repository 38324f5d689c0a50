package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session owns one user's websocket on this instance. All outbound frames go
// through the mailbox; the pump goroutine is the only writer on the socket.
type Session struct {
	userID       string
	conn         *websocket.Conn
	mailbox      chan []byte
	writeTimeout time.Duration

	connectedAt    time.Time
	lastActivityAt int64 // unix nanos, atomic

	done      chan struct{}
	closeOnce sync.Once

	// unwritten collects frames the pump dequeued but could not write.
	// Together with whatever stays in the mailbox at close time they form
	// the Unsent set the engine re-queues.
	mu        sync.Mutex
	unwritten [][]byte

	// onDead fires once when a socket write fails, letting the engine tear
	// down registry state for a session it did not close itself.
	onDead func(s *Session)
}

func newSession(conn *websocket.Conn, userID string, mailboxSize int, writeTimeout time.Duration, onDead func(*Session)) *Session {
	s := &Session{
		userID:         userID,
		conn:           conn,
		mailbox:        make(chan []byte, mailboxSize),
		writeTimeout:   writeTimeout,
		connectedAt:    time.Now(),
		lastActivityAt: time.Now().UnixNano(),
		done:           make(chan struct{}),
		onDead:         onDead,
	}
	go s.pump()
	return s
}

func (s *Session) UserID() string         { return s.userID }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Touch refreshes the activity clock. Called on every client frame; outbound
// traffic never counts as activity, otherwise server heartbeats would keep a
// silent client alive forever.
func (s *Session) Touch() {
	atomic.StoreInt64(&s.lastActivityAt, time.Now().UnixNano())
}

// IdleFor reports whether the session has seen no activity for at least d.
func (s *Session) IdleFor(d time.Duration) bool {
	last := time.Unix(0, atomic.LoadInt64(&s.lastActivityAt))
	return time.Since(last) >= d
}

// Send enqueues a serialized frame. A full mailbox is given a short grace
// window; admission failure means the session is saturated or closed and the
// caller should treat the frame as undelivered. Liveness is checked before
// and after admission: a close racing the enqueue reports failure instead of
// counting a frame nobody will write.
func (s *Session) Send(frame []byte, timeout time.Duration) bool {
	if s.isClosed() {
		return false
	}

	select {
	case s.mailbox <- frame:
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-s.done:
			return false
		case s.mailbox <- frame:
		case <-t.C:
			return false
		}
	}

	if s.isClosed() {
		// The frame sits in a mailbox that may never drain; Unsent will
		// pick it up.
		return false
	}
	return true
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) pump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.mailbox:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.mu.Lock()
				s.unwritten = append(s.unwritten, frame)
				s.mu.Unlock()
				s.Close()
				if s.onDead != nil {
					// Detached so teardown can re-enter the hub safely.
					go s.onDead(s)
				}
				return
			}
		}
	}
}

// CloseWith sends a close control frame before shutting the socket. Used for
// the 4000 invalid-user rejection.
func (s *Session) CloseWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.Close()
}

// Close is idempotent and safe to call from the pump, the engine and the
// transport handler concurrently.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Done exposes the lifecycle channel so read loops can exit when the session
// is torn down elsewhere.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Unsent drains the frames that were admitted but never written: the pump's
// failed write plus whatever remains in the mailbox. Available only after
// close, and each frame is returned exactly once so competing teardown paths
// cannot re-queue duplicates from here.
func (s *Session) Unsent() [][]byte {
	if !s.isClosed() {
		return nil
	}

	s.mu.Lock()
	out := s.unwritten
	s.unwritten = nil
	s.mu.Unlock()

	for {
		select {
		case frame := <-s.mailbox:
			out = append(out, frame)
		default:
			return out
		}
	}
}
