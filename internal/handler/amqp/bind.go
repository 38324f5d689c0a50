package amqp

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
)

// IngressFunc is the business-logic signature handlers implement.
type IngressFunc[T any] func(ctx context.Context, payload *T) error

// [INFRASTRUCTURE_BRIDGE]
// Bind adapts a typed handler to Watermill. Panics are contained, malformed
// payloads are acked (a bad payload never improves on redelivery), and
// handler errors are returned so the retry middleware runs.
func Bind[T any](h *IngressHandler, fn IngressFunc[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		// [PANIC_RECOVERY]
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("ingress handler panic",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
			}
		}()

		// [DECODING]
		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			h.logger.Error("ingress decode failed", "err", err, "msg_id", msg.UUID)
			return nil
		}

		return fn(msg.Context(), payload)
	}
}
