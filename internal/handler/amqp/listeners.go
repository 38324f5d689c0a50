package amqp

import (
	"context"
	"strings"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
)

// notificationEventV1 is the broker-side ingress payload.
type notificationEventV1 struct {
	UserID  string `json:"user_id"`
	Message any    `json:"message"`
	Type    string `json:"type"`
}

// [ON_NOTIFICATION_CREATED]
// OnNotificationCreatedV1 routes a broker event through the same distributed
// delivery path the HTTP producers use.
func (h *IngressHandler) OnNotificationCreatedV1(ctx context.Context, raw *notificationEventV1) error {
	userID := strings.TrimSpace(raw.UserID)
	if userID == "" {
		h.logger.Warn("ingress event without user id dropped")
		return nil
	}

	n := model.NewNotification(userID, model.NormalizeMessage(raw.Message), raw.Type, "")
	delivered, method := h.deliverer.SendDistributed(ctx, n)
	h.logger.Debug("ingress event routed",
		"user_id", userID,
		"delivered", delivered,
		"method", method,
	)
	return nil
}
