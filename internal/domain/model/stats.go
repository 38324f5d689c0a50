package model

// HubStats describes the sessions terminated on this instance.
type HubStats struct {
	InstanceID       string   `json:"instance_id"`
	LocalConnections int      `json:"local_connections"`
	Users            []string `json:"users"`
	UptimeSeconds    int64    `json:"uptime_seconds"`
}

// DistributedStats aggregates the connection registry across instances.
type DistributedStats struct {
	TotalConnections int                 `json:"total_connections"`
	Instances        map[string]int      `json:"instances"`
	UsersByInstance  map[string][]string `json:"users_by_instance"`
}

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status       string         `json:"status"`
	InstanceID   string         `json:"instance_id"`
	Checks       map[string]any `json:"checks"`
	StreamLength int64          `json:"stream_length"`
	ConsumerLag  int64          `json:"consumer_lag"`
}
