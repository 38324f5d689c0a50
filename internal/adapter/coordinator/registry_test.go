package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
)

func TestConnectionRegistryPutOwner(t *testing.T) {
	_, rdb := newTestClient(t)
	reg := NewConnectionRegistry(rdb, testLogger(), "inst-1")
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, "u1"))

	entry, ok, err := reg.Owner(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "inst-1", entry.InstanceID)
	assert.Equal(t, "u1", entry.UserID)

	_, ok, err = reg.Owner(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectionRegistryMalformedEntryHealed(t *testing.T) {
	_, rdb := newTestClient(t)
	reg := NewConnectionRegistry(rdb, testLogger(), "inst-1")
	ctx := context.Background()

	require.NoError(t, rdb.HSet(ctx, ConnectionsKey, "u1", "{not json").Err())

	_, ok, err := reg.Owner(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	// The broken field is gone after the miss.
	n, err := rdb.HExists(ctx, ConnectionsKey, "u1").Result()
	require.NoError(t, err)
	assert.False(t, n)
}

func TestConnectionRegistryRemoveIdempotent(t *testing.T) {
	_, rdb := newTestClient(t)
	reg := NewConnectionRegistry(rdb, testLogger(), "inst-1")
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, "u1"))
	require.NoError(t, reg.Remove(ctx, "u1"))
	require.NoError(t, reg.Remove(ctx, "u1"))

	_, ok, err := reg.Owner(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectionRegistrySweep(t *testing.T) {
	_, rdb := newTestClient(t)
	reg := NewConnectionRegistry(rdb, testLogger(), "inst-1")
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, "fresh"))

	stale := model.RegistryEntry{
		InstanceID:  "inst-2",
		ConnectedAt: time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339Nano),
		UserID:      "stale",
	}
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, rdb.HSet(ctx, ConnectionsKey, "stale", raw).Err())

	removed := reg.Sweep(ctx, time.Hour)
	assert.Equal(t, 1, removed)

	entries, err := reg.All(ctx)
	require.NoError(t, err)
	assert.Contains(t, entries, "fresh")
	assert.NotContains(t, entries, "stale")
}

func TestConnectionRegistryRemoveInstance(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	mine := NewConnectionRegistry(rdb, testLogger(), "inst-1")
	peer := NewConnectionRegistry(rdb, testLogger(), "inst-2")

	require.NoError(t, mine.Put(ctx, "u1"))
	require.NoError(t, mine.Put(ctx, "u2"))
	require.NoError(t, peer.Put(ctx, "u3"))

	removed, err := mine.RemoveInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := mine.All(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "inst-2", entries["u3"].InstanceID)
}
