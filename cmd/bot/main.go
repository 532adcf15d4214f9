package main

import (
	"context"
	"log"

	"paper_bot/internal/modules/config"
	"paper_bot/internal/modules/health"
	"paper_bot/internal/modules/keypool"
	"paper_bot/internal/modules/marketdata"
	"paper_bot/internal/modules/metrics"
	"paper_bot/internal/modules/postgres"
	"paper_bot/internal/modules/pricewindow"
	"paper_bot/internal/modules/scheduler"
	"paper_bot/internal/modules/signal"
	"paper_bot/internal/modules/trade"
	"paper_bot/internal/runner"
	"paper_bot/pkg/logger"
	"paper_bot/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		postgres.Module(),
		health.Module(),
		keypool.Module(),
		marketdata.Module(),
		signal.Module(),
		pricewindow.Module(),
		scheduler.Module(),
		trade.Module(),
		metrics.Module(),
		runner.Module(),

		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
			tracing.SetServiceName("paper_bot")
			_, closer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Tracing.Host,
				Port: cfg.Tracing.Port,
			})
			if err != nil {
				logger.Error("tracing disabled: %v", err)
				return
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closer()
					return nil
				},
			})
		}),
	)
	app.Run()
}
