package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/pulsegrid/notify-delivery-service/infra/pubsub"
	"github.com/pulsegrid/notify-delivery-service/internal/service"
)

const (
	NotifyEventsExchange = "notify.events"

	TopicNotificationCreated = "notify.#.created.v1"

	IngressProcessorQueue = "notify-delivery.incoming-processor.v1"
	IngressPoisonTopic    = "notify-delivery.incoming-processor.v1.poison"
)

type IngressHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
}

func NewIngressHandler(logger *slog.Logger, deliverer service.Deliverer) *IngressHandler {
	return &IngressHandler{
		logger:    logger.With("component", "amqp_ingress"),
		deliverer: deliverer,
	}
}

func NewWatermillRouter(wmLogger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{}, wmLogger)
}

// [REGISTRATION_PIPELINE]
// RegisterHandlers wires every broker listener onto the router with the
// shared middleware chain. Each handler gets a node-scoped queue so
// instances never steal each other's deliveries.
func (h *IngressHandler) RegisterHandlers(router *message.Router, provider *pubsub.Provider) error {
	poisonPub, err := provider.BuildQueuePublisher()
	if err != nil {
		return fmt.Errorf("poison publisher: %w", err)
	}
	poison, err := middleware.PoisonQueue(poisonPub, IngressPoisonTopic)
	if err != nil {
		return fmt.Errorf("poison queue: %w", err)
	}

	configs := []struct {
		name     string
		exchange string
		topic    string
		handler  message.NoPublishHandlerFunc
	}{
		{"ON_NOTIFICATION_CREATED", NotifyEventsExchange, TopicNotificationCreated, Bind(h, h.OnNotificationCreatedV1)},
	}

	for _, c := range configs {
		// [UNIQUE_HANDLER_QUEUE]
		nodeID := uuid.NewString()[:8]
		handlerQueue := fmt.Sprintf("%s.%s.%s", IngressProcessorQueue, nodeID, c.name)

		sub, err := provider.BuildSubscriber(handlerQueue, c.exchange)
		if err != nil {
			return err
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			NewRetryMiddleware().Middleware,
			poison,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	h.logger.Info("amqp ingress ready", "queue", IngressProcessorQueue)
	return nil
}
