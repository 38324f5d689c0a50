package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// IngestionLog wraps the shared stream and its single consumer group.
// Instances consume competitively; each entry is acknowledged once per group.
type IngestionLog struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewIngestionLog(rdb *redis.Client, logger *slog.Logger) *IngestionLog {
	return &IngestionLog{
		rdb:    rdb,
		logger: logger.With("component", "ingestion_log"),
	}
}

// EnsureGroup creates the consumer group (and the stream itself) if either
// is missing. An already-existing group is silent success.
func (l *IngestionLog) EnsureGroup(ctx context.Context) error {
	err := l.rdb.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("ingestion log: create group: %w", err)
	}
	return nil
}

// Append adds a producer entry and returns the stream id.
func (l *IngestionLog) Append(ctx context.Context, values map[string]any) (string, error) {
	id, err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("ingestion log: append: %w", err)
	}
	return id, nil
}

// Read fetches up to count undelivered entries for the given consumer. A
// non-positive block performs a non-blocking read. No data is returned as an
// empty slice, not an error.
func (l *IngestionLog) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	if block <= 0 {
		block = -1 // omit BLOCK: non-blocking read
	}
	res, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []redis.XMessage
	for _, stream := range res {
		msgs = append(msgs, stream.Messages...)
	}
	return msgs, nil
}

// Ack acknowledges entries within the group.
func (l *IngestionLog) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.rdb.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("ingestion log: ack: %w", err)
	}
	return nil
}

// Len reports the stream length for health checks.
func (l *IngestionLog) Len(ctx context.Context) (int64, error) {
	return l.rdb.XLen(ctx, StreamKey).Result()
}

// GroupLag reports the group's pending count for health checks. A missing
// stream or group is reported as zero lag.
func (l *IngestionLog) GroupLag(ctx context.Context) (int64, error) {
	groups, err := l.rdb.XInfoGroups(ctx, StreamKey).Result()
	if err != nil {
		// XINFO GROUPS answers "ERR no such key" before the first entry or
		// EnsureGroup creates the stream; that is zero lag, not a failure.
		if IsNoGroup(err) || err == redis.Nil || strings.Contains(err.Error(), "no such key") {
			return 0, nil
		}
		return 0, fmt.Errorf("ingestion log: group info: %w", err)
	}
	for _, g := range groups {
		if g.Name == ConsumerGroup {
			return g.Pending, nil
		}
	}
	return 0, nil
}

// IsNoGroup detects the NOGROUP error class the consumer must recover from
// by recreating the group.
func IsNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}
