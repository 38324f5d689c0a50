package ws

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
)

var Module = fx.Module("ws-handler",
	fx.Provide(NewWSHandler),
	fx.Invoke(func(router *chi.Mux, h *WSHandler) {
		router.Get("/ws/{userID}", h.ServeHTTP)
	}),
)
