package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
)

// ConnectionRegistry is the distributed user -> owning-instance mapping.
// Every instance writes and removes only its own entries; reads see peers.
type ConnectionRegistry struct {
	rdb        *redis.Client
	logger     *slog.Logger
	instanceID string
}

func NewConnectionRegistry(rdb *redis.Client, logger *slog.Logger, instanceID string) *ConnectionRegistry {
	return &ConnectionRegistry{
		rdb:        rdb,
		logger:     logger.With("component", "connection_registry"),
		instanceID: instanceID,
	}
}

// Put registers this instance as the owner of the user's session.
func (r *ConnectionRegistry) Put(ctx context.Context, userID string) error {
	entry := model.NewRegistryEntry(r.instanceID, userID)
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("registry: marshal entry: %w", err)
	}
	if err := r.rdb.HSet(ctx, ConnectionsKey, userID, raw).Err(); err != nil {
		return fmt.Errorf("registry: put %s: %w", userID, err)
	}
	return nil
}

// Owner resolves the instance owning the user's session. A missing field is
// a clean miss; a malformed value is deleted and reported as a miss.
func (r *ConnectionRegistry) Owner(ctx context.Context, userID string) (model.RegistryEntry, bool, error) {
	raw, err := r.rdb.HGet(ctx, ConnectionsKey, userID).Result()
	if err == redis.Nil {
		return model.RegistryEntry{}, false, nil
	}
	if err != nil {
		return model.RegistryEntry{}, false, fmt.Errorf("registry: lookup %s: %w", userID, err)
	}

	var entry model.RegistryEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || !entry.Valid() {
		r.logger.Warn("removing malformed registry entry", "user_id", userID)
		_ = r.rdb.HDel(ctx, ConnectionsKey, userID).Err()
		return model.RegistryEntry{}, false, nil
	}
	return entry, true, nil
}

// Remove deletes the user's entry. Idempotent.
func (r *ConnectionRegistry) Remove(ctx context.Context, userID string) error {
	if err := r.rdb.HDel(ctx, ConnectionsKey, userID).Err(); err != nil {
		return fmt.Errorf("registry: remove %s: %w", userID, err)
	}
	return nil
}

// All returns every parseable entry, keyed by user id. Malformed values are
// deleted on the way through.
func (r *ConnectionRegistry) All(ctx context.Context) (map[string]model.RegistryEntry, error) {
	raw, err := r.rdb.HGetAll(ctx, ConnectionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: scan: %w", err)
	}

	out := make(map[string]model.RegistryEntry, len(raw))
	for userID, val := range raw {
		var entry model.RegistryEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil || !entry.Valid() {
			r.logger.Warn("removing malformed registry entry", "user_id", userID)
			_ = r.rdb.HDel(ctx, ConnectionsKey, userID).Err()
			continue
		}
		out[userID] = entry
	}
	return out, nil
}

// Sweep removes entries older than the horizon. Live sessions survive
// because the heartbeat loop re-writes their entries every cycle.
func (r *ConnectionRegistry) Sweep(ctx context.Context, horizon time.Duration) int {
	entries, err := r.All(ctx)
	if err != nil {
		r.logger.Warn("registry sweep skipped", "err", err)
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-horizon)
	for userID, entry := range entries {
		at, err := entry.ConnectedTime()
		if err != nil || at.Before(cutoff) {
			if err := r.rdb.HDel(ctx, ConnectionsKey, userID).Err(); err != nil {
				r.logger.Warn("registry sweep delete failed", "user_id", userID, "err", err)
				continue
			}
			removed++
		}
	}
	return removed
}

// RemoveInstance deletes every entry owned by the given instance id. Used on
// shutdown so peers stop fanning out to a dead instance.
func (r *ConnectionRegistry) RemoveInstance(ctx context.Context, instanceID string) (int, error) {
	entries, err := r.All(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for userID, entry := range entries {
		if entry.InstanceID != instanceID {
			continue
		}
		if err := r.rdb.HDel(ctx, ConnectionsKey, userID).Err(); err != nil {
			r.logger.Warn("registry cleanup delete failed", "user_id", userID, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
