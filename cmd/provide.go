package cmd

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/pulsegrid/notify-delivery-service/config"
)

func ProvideLogger(cfg *config.Config) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.Level,
	})
	logger := slog.New(handler).With(
		"service", ServiceName,
		"instance_id", cfg.InstanceID,
	)
	slog.SetDefault(logger)
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}
