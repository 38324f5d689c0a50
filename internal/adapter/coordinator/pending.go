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

// PendingStore is the durable per-user offline queue plus the pending-users
// index and the dead letter list. Queues are sorted sets scored by enqueue
// time; rank-based scans keep dequeue order stable under clock drift.
type PendingStore struct {
	rdb    *redis.Client
	logger *slog.Logger

	maxPending int
	ttl        time.Duration
}

func NewPendingStore(rdb *redis.Client, logger *slog.Logger, maxPending int, ttl time.Duration) *PendingStore {
	return &PendingStore{
		rdb:        rdb,
		logger:     logger.With("component", "pending_store"),
		maxPending: maxPending,
		ttl:        ttl,
	}
}

// ScoredEntry pairs a parsed pending entry with its raw member and score so
// callers can remove or replace exactly what they read.
type ScoredEntry struct {
	Entry model.PendingEntry
	Raw   string
	Score float64
}

// Enqueue appends an entry to the user's queue, refreshes the TTL, indexes
// the user and trims the queue from the left so only the newest maxPending
// entries survive.
func (s *PendingStore) Enqueue(ctx context.Context, entry model.PendingEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("pending: marshal: %w", err)
	}

	key := PendingKey(entry.UserID)
	score := float64(time.Now().Unix())

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: raw})
	pipe.Expire(ctx, key, s.ttl)
	pipe.SAdd(ctx, PendingUsersKey, entry.UserID)
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-(s.maxPending + 1)))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pending: enqueue %s: %w", entry.UserID, err)
	}
	return nil
}

// Entries reads the user's queue in score order. Malformed members are
// discarded from the queue and skipped.
func (s *PendingStore) Entries(ctx context.Context, userID string) ([]ScoredEntry, error) {
	key := PendingKey(userID)
	raw, err := s.rdb.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("pending: read %s: %w", userID, err)
	}

	out := make([]ScoredEntry, 0, len(raw))
	for _, z := range raw {
		member, _ := z.Member.(string)
		var entry model.PendingEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			s.logger.Warn("discarding malformed pending entry", "user_id", userID)
			_ = s.rdb.ZRem(ctx, key, member).Err()
			continue
		}
		out = append(out, ScoredEntry{Entry: entry, Raw: member, Score: z.Score})
	}
	return out, nil
}

// Remove deletes a delivered (or dead-lettered) member and prunes the index
// when the queue empties.
func (s *PendingStore) Remove(ctx context.Context, userID, raw string) error {
	if err := s.rdb.ZRem(ctx, PendingKey(userID), raw).Err(); err != nil {
		return fmt.Errorf("pending: remove %s: %w", userID, err)
	}
	return s.PruneIndex(ctx, userID)
}

// Replace swaps a member in place, preserving its score so the entry keeps
// its position in the queue across attempt increments.
func (s *PendingStore) Replace(ctx context.Context, userID, oldRaw string, entry model.PendingEntry, score float64) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("pending: marshal: %w", err)
	}

	key := PendingKey(userID)
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, key, oldRaw)
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: raw})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pending: replace %s: %w", userID, err)
	}
	return nil
}

// DeadLetter appends an exhausted entry to the inspection list.
func (s *PendingStore) DeadLetter(ctx context.Context, entry model.PendingEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("pending: marshal dead letter: %w", err)
	}
	if err := s.rdb.RPush(ctx, DeadLetterKey, raw).Err(); err != nil {
		return fmt.Errorf("pending: dead letter %s: %w", entry.UserID, err)
	}
	return nil
}

// PendingUsers lists users with (supposedly) non-empty queues.
func (s *PendingStore) PendingUsers(ctx context.Context) ([]string, error) {
	users, err := s.rdb.SMembers(ctx, PendingUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pending: index scan: %w", err)
	}
	return users, nil
}

// PruneIndex drops the user from the index iff their queue is empty,
// restoring the index invariant after dequeues.
func (s *PendingStore) PruneIndex(ctx context.Context, userID string) error {
	n, err := s.rdb.ZCard(ctx, PendingKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("pending: card %s: %w", userID, err)
	}
	if n == 0 {
		if err := s.rdb.SRem(ctx, PendingUsersKey, userID).Err(); err != nil {
			return fmt.Errorf("pending: prune index %s: %w", userID, err)
		}
	}
	return nil
}

// QueueLen reports the user's queue size.
func (s *PendingStore) QueueLen(ctx context.Context, userID string) (int64, error) {
	return s.rdb.ZCard(ctx, PendingKey(userID)).Result()
}

// RawQueue exposes the unparsed queue for the debug endpoint.
func (s *PendingStore) RawQueue(ctx context.Context, userID string) ([]redis.Z, error) {
	return s.rdb.ZRangeWithScores(ctx, PendingKey(userID), 0, -1).Result()
}
