package registry

import "time"

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithMailboxSize sets the per-session outbound buffer capacity.
func WithMailboxSize(size int) Option {
	return func(h *Hub) {
		h.config.mailboxSize = size
	}
}

// WithWriteTimeout bounds a single websocket write before the session is
// declared dead.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.config.writeTimeout = d
	}
}
