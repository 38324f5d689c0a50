package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
)

// Bus is the pub/sub side of the coordinator: the per-instance fan-out
// channels and the external ingress channel. Fan-out publishes run through a
// circuit breaker so a flapping coordinator degrades to the pending store
// instead of hammering dead connections.
type Bus struct {
	rdb     *redis.Client
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
}

func NewBus(rdb *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{
		rdb:    rdb,
		logger: logger.With("component", "bus"),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "fanout-publish",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// PublishFanout forwards a notification to the owning instance's channel.
func (b *Bus) PublishFanout(ctx context.Context, instanceID string, f model.Fanout) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("bus: marshal fanout: %w", err)
	}

	_, err = b.breaker.Execute(func() (any, error) {
		return nil, b.rdb.Publish(ctx, InstanceChannel(instanceID), raw).Err()
	})
	if err != nil {
		return fmt.Errorf("bus: fanout to %s: %w", instanceID, err)
	}
	return nil
}

// PublishIngress pushes an envelope onto the external ingress channel.
// Exists for producers embedded in the same binary and for tests.
func (b *Bus) PublishIngress(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal ingress: %w", err)
	}
	if err := b.rdb.Publish(ctx, IngressChannel, raw).Err(); err != nil {
		return fmt.Errorf("bus: ingress publish: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription on the given channel. The caller
// owns the handle and must Close it.
func (b *Bus) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, channel)
}
