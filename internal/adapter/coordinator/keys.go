// Package coordinator adapts the shared Redis coordinator: the connection
// registry hash, per-user pending queues, the ingestion stream and the
// pub/sub fan-out channels. All key names live here; nothing outside this
// package touches raw keys.
package coordinator

const (
	// StreamKey is the shared ingestion log.
	StreamKey = "notifications:stream"
	// ConsumerGroup is the single named group all instances consume with.
	ConsumerGroup = "notification_processors"

	// ConnectionsKey is the registry hash: field = user id, value = JSON
	// registry entry.
	ConnectionsKey = "websocket:connections"

	// PendingUsersKey indexes users with a non-empty pending queue.
	PendingUsersKey = "notifications:pending_users"
	// DeadLetterKey is the append-only sink for exhausted entries.
	DeadLetterKey = "notifications:dead_letter"

	// IngressChannel accepts loosely structured envelopes from any producer.
	IngressChannel = "notifications:user"

	pendingKeyPrefix    = "notifications:pending:"
	instanceChanPrefix  = "notifications:instance:"
)

// PendingKey is the per-user pending sorted set.
func PendingKey(userID string) string {
	return pendingKeyPrefix + userID
}

// InstanceChannel is the per-instance fan-out channel.
func InstanceChannel(instanceID string) string {
	return instanceChanPrefix + instanceID
}
