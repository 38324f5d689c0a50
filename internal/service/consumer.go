package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pulsegrid/notify-delivery-service/internal/adapter/coordinator"
	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
)

const (
	consumeBatch = 10
	consumeBlock = time.Second
)

// consumerName builds the competitive consumer id for this instance.
func (e *Engine) consumerName() string {
	buf := make([]byte, 2)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%s", e.instanceID, hex.EncodeToString(buf))
}

// consumeLoop competes with peer instances for ingestion log entries.
// Delivery failures never block the log: every read entry is acknowledged
// and undeliverable ones land in the pending store for the retry loop.
func (e *Engine) consumeLoop(ctx context.Context) error {
	consumer := e.consumerName()
	policy := e.newReconnectPolicy()
	e.logger.Info("stream consumer started", "consumer", consumer)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := e.log.Read(ctx, consumer, consumeBatch, consumeBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if coordinator.IsNoGroup(err) {
				e.logger.Warn("consumer group missing, recreating")
				if err := e.log.EnsureGroup(ctx); err != nil {
					e.logger.Error("consumer group recreate failed", "err", err)
				}
				continue
			}
			e.logger.Warn("stream read failed", "err", err)
			if !policy.Wait(ctx) {
				e.logger.Error("stream consumer giving up after max reconnect attempts")
				return nil
			}
			continue
		}
		policy.Reset()

		for _, msg := range msgs {
			e.handleStreamMessage(ctx, msg)
			if err := e.log.Ack(ctx, msg.ID); err != nil {
				e.logger.Warn("stream ack failed", "id", msg.ID, "err", err)
			}
		}
	}
}

// handleStreamMessage parses one log entry and routes it. Entries without a
// user id are dropped (the caller still acks them).
func (e *Engine) handleStreamMessage(ctx context.Context, msg redis.XMessage) {
	defer e.recoverPanic("stream_consumer")

	userID := strings.TrimSpace(stringValue(msg.Values, "user_id"))
	if userID == "" {
		e.logger.Warn("dropping stream entry without user_id", "id", msg.ID)
		return
	}

	n := model.Notification{
		Type:           stringValue(msg.Values, "type"),
		UserID:         userID,
		Message:        model.DecodeMessage(stringValue(msg.Values, "message")),
		Timestamp:      stringValue(msg.Values, "timestamp"),
		NotificationID: stringValue(msg.Values, "notification_id"),
	}
	if n.Type == "" {
		n.Type = model.FrameNotification
	}
	if n.Timestamp == "" {
		n.Timestamp = model.Now()
	}
	if n.NotificationID == "" {
		// Mint only the id; the producer's timestamp must survive as-is.
		n.NotificationID = uuid.NewString()
	}

	e.metrics.streamConsumed.Add(ctx, 1, e.metrics.attrs)
	delivered, method := e.SendDistributed(ctx, n)
	e.logger.Debug("stream entry processed",
		"id", msg.ID,
		"user_id", userID,
		"delivered", delivered,
		"method", method,
	)
}

func stringValue(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}
