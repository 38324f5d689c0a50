// Package http owns the chi router and the HTTP/WS listener. Handler
// packages attach their routes through fx invokes before the server starts.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"

	"github.com/pulsegrid/notify-delivery-service/config"
)

var Module = fx.Module("http-server",
	fx.Provide(NewRouter),
	fx.Invoke(Serve),
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	return r
}

// Serve starts the listener on fx start and shuts it down gracefully on
// stop. TLS is enabled when both key and cert files are configured.
func Serve(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, router *chi.Mux) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				var err error
				if cfg.SSLCertFile != "" && cfg.SSLKeyFile != "" {
					logger.Info("http server listening (tls)", "addr", cfg.HTTPAddr)
					err = srv.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile)
				} else {
					logger.Info("http server listening", "addr", cfg.HTTPAddr)
					err = srv.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
