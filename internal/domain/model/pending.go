package model

// DefaultMaxAttempts bounds delivery retries before an entry moves to the
// dead letter list.
const DefaultMaxAttempts = 3

// PendingEntry is the durable value stored in a user's pending queue. The
// JSON schema is stable: entries written by older instances must stay
// readable across upgrades.
type PendingEntry struct {
	UserID         string `json:"user_id"`
	Message        any    `json:"message"`
	Timestamp      string `json:"timestamp"`
	Attempts       int    `json:"attempts"`
	MaxAttempts    int    `json:"max_attempts"`
	NotificationID string `json:"notification_id"`
}

// NewPendingEntry captures an undelivered notification for later retries.
// Re-queueing a replayed frame keeps its original enqueue time, so a
// notification bouncing between the queue and a dying socket never forgets
// when it was first produced.
func NewPendingEntry(n Notification) PendingEntry {
	ts := n.Timestamp
	if n.OriginalTimestamp != "" {
		ts = n.OriginalTimestamp
	}
	if ts == "" {
		ts = Now()
	}
	return PendingEntry{
		UserID:         n.UserID,
		Message:        n.Message,
		Timestamp:      ts,
		Attempts:       0,
		MaxAttempts:    DefaultMaxAttempts,
		NotificationID: n.NotificationID,
	}
}

// Notification rebuilds the wire envelope for a pending entry. Replayed
// frames are tagged so clients can tell queued history from live traffic.
func (p PendingEntry) Notification() Notification {
	return Notification{
		Type:              FrameNotification,
		UserID:            p.UserID,
		Message:           p.Message,
		Timestamp:         Now(),
		NotificationID:    p.NotificationID,
		IsPending:         true,
		OriginalTimestamp: p.Timestamp,
	}
}

// Exhausted reports whether the entry has burned through its retry budget.
func (p PendingEntry) Exhausted() bool {
	return p.Attempts >= p.MaxAttempts
}
