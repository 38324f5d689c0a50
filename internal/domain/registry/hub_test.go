package registry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConnPair upgrades a loopback websocket and returns both ends. The
// server side is what sessions write to; the client side is what a browser
// would read from.
func newConnPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never upgraded")
	}
	t.Cleanup(func() { _ = server.Close() })
	return server, client
}

func TestHubOpenAndGet(t *testing.T) {
	hub := NewHub()
	server, _ := newConnPair(t)

	s := hub.Open(server, "u1", nil)
	defer s.Close()

	got, ok := hub.Get("u1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, hub.Len())
	assert.Equal(t, []string{"u1"}, hub.Users())
}

func TestHubOpenDisplacesPreviousSession(t *testing.T) {
	hub := NewHub()
	oldConn, _ := newConnPair(t)
	newConn, _ := newConnPair(t)

	old := hub.Open(oldConn, "u1", nil)
	replacement := hub.Open(newConn, "u1", nil)
	defer replacement.Close()

	select {
	case <-old.Done():
	case <-time.After(time.Second):
		t.Fatal("displaced session was not closed")
	}

	got, ok := hub.Get("u1")
	require.True(t, ok)
	assert.Same(t, replacement, got)
	assert.Equal(t, 1, hub.Len())
}

func TestHubRemoveOnlyIfCurrent(t *testing.T) {
	hub := NewHub()
	oldConn, _ := newConnPair(t)
	newConn, _ := newConnPair(t)

	old := hub.Open(oldConn, "u1", nil)
	replacement := hub.Open(newConn, "u1", nil)
	defer replacement.Close()

	// The displaced session must not be able to unregister its replacement.
	assert.Nil(t, hub.Remove("u1", old))
	_, ok := hub.Get("u1")
	assert.True(t, ok)

	assert.Same(t, replacement, hub.Remove("u1", replacement))
	_, ok = hub.Get("u1")
	assert.False(t, ok)

	assert.Nil(t, hub.Remove("u1", replacement))
}

func TestHubRemoveNilSession(t *testing.T) {
	hub := NewHub()
	server, _ := newConnPair(t)

	s := hub.Open(server, "u1", nil)
	defer s.Close()

	assert.Same(t, s, hub.Remove("u1", nil))
	assert.Equal(t, 0, hub.Len())
}

func TestHubShutdownClosesAll(t *testing.T) {
	hub := NewHub()
	c1, _ := newConnPair(t)
	c2, _ := newConnPair(t)

	s1 := hub.Open(c1, "u1", nil)
	s2 := hub.Open(c2, "u2", nil)

	hub.Shutdown()

	assert.Equal(t, 0, hub.Len())
	for _, s := range []*Session{s1, s2} {
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatal("session survived shutdown")
		}
	}
}

func TestSessionSendReachesClient(t *testing.T) {
	hub := NewHub()
	server, client := newConnPair(t)

	s := hub.Open(server, "u1", nil)
	defer s.Close()

	require.True(t, s.Send([]byte(`{"type":"notification"}`), time.Second))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"notification"}`, string(frame))
}

func TestSessionSendAfterCloseFails(t *testing.T) {
	hub := NewHub()
	server, _ := newConnPair(t)

	s := hub.Open(server, "u1", nil)
	s.Close()
	s.Close() // idempotent

	// Every attempt on a closed session must fail, not just the ones that
	// happen to win a select race.
	for i := 0; i < 100; i++ {
		assert.False(t, s.Send([]byte("x"), 50*time.Millisecond))
	}
}

func TestSessionSendDoesNotRefreshActivity(t *testing.T) {
	hub := NewHub()
	server, _ := newConnPair(t)

	s := hub.Open(server, "u1", nil)
	defer s.Close()

	time.Sleep(30 * time.Millisecond)
	require.True(t, s.IdleFor(20*time.Millisecond))

	require.True(t, s.Send([]byte("x"), time.Second))

	// Outbound traffic is not client activity: the idle clock must not move.
	assert.True(t, s.IdleFor(20*time.Millisecond))

	s.Touch()
	assert.False(t, s.IdleFor(20*time.Millisecond))
}

func TestSessionOnDeadFiresOnWriteFailure(t *testing.T) {
	hub := NewHub(WithWriteTimeout(time.Second))
	server, client := newConnPair(t)

	dead := make(chan *Session, 1)
	s := hub.Open(server, "u1", func(s *Session) { dead <- s })

	// Kill the transport underneath the pump.
	_ = client.Close()
	_ = server.Close()

	s.Send([]byte("x"), time.Second)

	select {
	case got := <-dead:
		assert.Same(t, s, got)
	case <-time.After(2 * time.Second):
		t.Fatal("onDead never fired")
	}
}

func TestSessionUnsentReturnsFailedFrames(t *testing.T) {
	hub := NewHub(WithWriteTimeout(time.Second))
	server, client := newConnPair(t)

	dead := make(chan *Session, 1)
	s := hub.Open(server, "u1", func(s *Session) { dead <- s })

	assert.Nil(t, s.Unsent(), "live sessions expose no unsent frames")

	_ = client.Close()
	_ = server.Close()

	s.Send([]byte("payload"), time.Second)

	select {
	case <-dead:
	case <-time.After(2 * time.Second):
		t.Fatal("onDead never fired")
	}

	frames := s.Unsent()
	require.Len(t, frames, 1)
	assert.Equal(t, "payload", string(frames[0]))

	assert.Empty(t, s.Unsent(), "frames are drained exactly once")
}

func TestSessionIdleFor(t *testing.T) {
	hub := NewHub()
	server, _ := newConnPair(t)

	s := hub.Open(server, "u1", nil)
	defer s.Close()

	assert.False(t, s.IdleFor(time.Minute))
	assert.True(t, s.IdleFor(0))

	s.Touch()
	assert.False(t, s.IdleFor(time.Minute))
}
