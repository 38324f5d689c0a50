// Package pubsub builds AMQP publishers and subscribers for the ingress
// pipeline. The broker is optional; without AMQP_DSN the provider stays
// disabled and the rest of the service runs on Redis alone.
package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/pulsegrid/notify-delivery-service/config"
)

type Provider struct {
	dsn    string
	logger watermill.LoggerAdapter
}

func NewProvider(cfg *config.Config, logger watermill.LoggerAdapter) *Provider {
	return &Provider{dsn: cfg.AMQPDSN, logger: logger}
}

func (p *Provider) Enabled() bool { return p.dsn != "" }

// BuildSubscriber binds a durable queue to a topic exchange. The routing key
// is the topic the router subscribes with, so wildcard bindings work as-is.
func (p *Provider) BuildSubscriber(queue, exchange string) (message.Subscriber, error) {
	cfg := amqp.NewDurablePubSubConfig(p.dsn, amqp.GenerateQueueNameConstant(queue))
	cfg.Exchange.GenerateName = func(string) string { return exchange }
	cfg.Exchange.Type = "topic"
	cfg.Exchange.Durable = true
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }

	return amqp.NewSubscriber(cfg, p.logger)
}

// BuildQueuePublisher publishes straight to a named queue. Used for the
// poison queue, which must survive without any consumer bound.
func (p *Provider) BuildQueuePublisher() (message.Publisher, error) {
	return amqp.NewPublisher(amqp.NewDurableQueueConfig(p.dsn), p.logger)
}
