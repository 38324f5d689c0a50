package amqp

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/pulsegrid/notify-delivery-service/infra/pubsub"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		pubsub.NewProvider,
		NewIngressHandler,
		NewWatermillRouter,
	),

	fx.Invoke(func(lc fx.Lifecycle, provider *pubsub.Provider, router *message.Router, h *IngressHandler) error {
		if !provider.Enabled() {
			h.logger.Info("amqp ingress disabled, no dsn configured")
			return nil
		}
		if err := h.RegisterHandlers(router, provider); err != nil {
			return err
		}

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := router.Run(context.Background()); err != nil {
						h.logger.Error("amqp router stopped", "err", err)
					}
				}()
				<-router.Running()
				return nil
			},
			OnStop: func(context.Context) error {
				return router.Close()
			},
		})
		return nil
	}),
)
