// Package coordinator provides the shared Redis client with pooling and
// keepalive, wired into the fx lifecycle. The client closes after the
// delivery engine drains (fx stops hooks in reverse start order).
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/pulsegrid/notify-delivery-service/config"
)

const connectTimeout = 5 * time.Second

var Module = fx.Module("coordinator",
	fx.Provide(NewClient),
	fx.Invoke(func(lc fx.Lifecycle, rdb *redis.Client, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
				defer cancel()
				if err := rdb.Ping(pingCtx).Err(); err != nil {
					return fmt.Errorf("coordinator: ping: %w", err)
				}
				logger.Info("coordinator connected", "addr", rdb.Options().Addr)
				return nil
			},
			OnStop: func(context.Context) error {
				return rdb.Close()
			},
		})
	}),
)

func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            cfg.Redis.Addr(),
		Password:        cfg.Redis.Password,
		DialTimeout:     connectTimeout,
		PoolSize:        20,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	})
}
