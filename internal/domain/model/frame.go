package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Frame type tags. Every frame that crosses the wire carries exactly one.
const (
	FrameNotification = "notification"
	FrameHeartbeat    = "heartbeat"
	FramePong         = "pong"
	FrameFanout       = "fanout"
)

// Notification is the envelope delivered to websocket clients and stored in
// the pending queue. Message may be any JSON value; producers sending bare
// strings/numbers get them promoted to {"content": <raw>} at the ingress.
type Notification struct {
	Type              string `json:"type"`
	UserID            string `json:"user_id"`
	Message           any    `json:"message"`
	Timestamp         string `json:"timestamp"`
	NotificationID    string `json:"notification_id"`
	IsPending         bool   `json:"is_pending,omitempty"`
	OriginalTimestamp string `json:"original_timestamp,omitempty"`
}

// NewNotification stamps a fresh envelope. An empty typ defaults to
// "notification"; an empty id gets a new UUID.
func NewNotification(userID string, message any, typ, id string) Notification {
	if typ == "" {
		typ = FrameNotification
	}
	if id == "" {
		id = uuid.NewString()
	}
	return Notification{
		Type:           typ,
		UserID:         userID,
		Message:        message,
		Timestamp:      Now(),
		NotificationID: id,
	}
}

// Heartbeat is pushed by the server on every heartbeat cycle.
type Heartbeat struct {
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp"`
	InstanceID string `json:"instance_id"`
}

func NewHeartbeat(instanceID string) Heartbeat {
	return Heartbeat{Type: FrameHeartbeat, Timestamp: Now(), InstanceID: instanceID}
}

// Pong answers a client {"type":"ping"} frame.
type Pong struct {
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp"`
	InstanceID string `json:"instance_id"`
}

func NewPong(instanceID string) Pong {
	return Pong{Type: FramePong, Timestamp: Now(), InstanceID: instanceID}
}

// Fanout forwards a notification from the instance that picked it up to the
// instance owning the user's session.
type Fanout struct {
	Type           string       `json:"type"`
	UserID         string       `json:"user_id"`
	Message        Notification `json:"message"`
	SourceInstance string       `json:"source_instance"`
}

func NewFanout(n Notification, sourceInstance string) Fanout {
	return Fanout{
		Type:           FrameFanout,
		UserID:         n.UserID,
		Message:        n,
		SourceInstance: sourceInstance,
	}
}

// NormalizeMessage promotes scalar payloads to an object so clients always
// receive a JSON object under "message". Objects and arrays pass through.
func NormalizeMessage(raw any) any {
	switch raw.(type) {
	case map[string]any, []any:
		return raw
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"content": raw}
	}
}

// DecodeMessage parses a raw payload string into a JSON value, wrapping
// anything that does not parse or is not an object.
func DecodeMessage(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return map[string]any{"content": raw}
	}
	return NormalizeMessage(decoded)
}

// Now renders the wall clock as ISO-8601 UTC, the timestamp format used on
// every frame and coordinator record.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
