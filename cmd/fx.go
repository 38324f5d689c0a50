package cmd

import (
	"go.uber.org/fx"

	"github.com/pulsegrid/notify-delivery-service/config"
	infracoordinator "github.com/pulsegrid/notify-delivery-service/infra/coordinator"
	httpsrv "github.com/pulsegrid/notify-delivery-service/infra/server/http"
	amqphandler "github.com/pulsegrid/notify-delivery-service/internal/handler/amqp"
	"github.com/pulsegrid/notify-delivery-service/internal/handler/httpapi"
	"github.com/pulsegrid/notify-delivery-service/internal/handler/ws"
	"github.com/pulsegrid/notify-delivery-service/internal/service"
)

// NewApp assembles the service. The coordinator module is listed before the
// engine so its shutdown hook runs after the engine's drain.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),
		infracoordinator.Module,
		service.Module,
		httpsrv.Module,
		ws.Module,
		httpapi.Module,
		amqphandler.Module,
	)
}
