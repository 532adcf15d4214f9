package metrics

import (
	"context"
	"fmt"
	"net/http"

	"paper_bot/internal/modules/config"
	"paper_bot/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(New),

		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, _ *Metrics) {
			if cfg.Service.AdminPort == 0 {
				return
			}
			addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.AdminPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: addr, Handler: mux}

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						logger.Info("metrics: listening on %s", addr)
						if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
							logger.Error("metrics: %v", err)
						}
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return srv.Shutdown(ctx)
				},
			})
		}),
	)
}
