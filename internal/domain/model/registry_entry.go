package model

import "time"

// RegistryEntry is the coordinator-resident record mapping a user to the
// instance that owns their live session.
type RegistryEntry struct {
	InstanceID  string `json:"instance_id"`
	ConnectedAt string `json:"connected_at"`
	UserID      string `json:"user_id"`
}

func NewRegistryEntry(instanceID, userID string) RegistryEntry {
	return RegistryEntry{
		InstanceID:  instanceID,
		ConnectedAt: Now(),
		UserID:      userID,
	}
}

// ConnectedTime parses the connect timestamp. A parse failure marks the
// entry as malformed; callers delete such entries.
func (e RegistryEntry) ConnectedTime() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.ConnectedAt)
}

// Valid reports whether the entry carries enough state to route on.
func (e RegistryEntry) Valid() bool {
	if e.InstanceID == "" || e.ConnectedAt == "" {
		return false
	}
	_, err := e.ConnectedTime()
	return err == nil
}
