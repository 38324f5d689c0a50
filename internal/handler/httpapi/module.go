package httpapi

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/pulsegrid/notify-delivery-service/config"
)

var Module = fx.Module("http-api",
	fx.Provide(NewHandler),
	fx.Invoke(func(router *chi.Mux, h *Handler, cfg *config.Config) {
		router.Post("/notify/stream/{userID}", h.NotifyStream)
		router.Post("/notify/direct/{userID}", h.NotifyDirect)
		router.Get("/health", h.Health)
		router.Get("/stats", h.Stats)
		router.Get("/stats/distributed", h.StatsDistributed)
		if cfg.EnableDebug {
			router.Get("/debug/pending/{userID}", h.DebugPending)
		}
	}),
)
