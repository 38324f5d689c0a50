package service

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/pulsegrid/notify-delivery-service/config"
	"github.com/pulsegrid/notify-delivery-service/internal/adapter/coordinator"
	"github.com/pulsegrid/notify-delivery-service/internal/domain/registry"
)

var Module = fx.Module("engine",
	fx.Provide(
		func() *registry.Hub {
			return registry.NewHub(
				registry.WithMailboxSize(256),
			)
		},
		func(rdb *redis.Client, logger *slog.Logger, cfg *config.Config) *coordinator.ConnectionRegistry {
			return coordinator.NewConnectionRegistry(rdb, logger, cfg.InstanceID)
		},
		func(rdb *redis.Client, logger *slog.Logger, cfg *config.Config) *coordinator.PendingStore {
			return coordinator.NewPendingStore(rdb, logger, cfg.MaxPendingMessages, cfg.MessageTTL)
		},
		coordinator.NewIngestionLog,
		coordinator.NewBus,

		NewEngine,
		func(e *Engine) Deliverer { return e },
	),

	fx.Invoke(func(lc fx.Lifecycle, e *Engine) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error { return e.Start(ctx) },
			OnStop:  func(ctx context.Context) error { return e.Stop(ctx) },
		})
	}),
)
