package runner

import (
	"context"

	mdservice "paper_bot/internal/modules/marketdata/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(s *mdservice.PgStore) QuoteDirectory { return s },
			New,
		),
		fx.Invoke(func(lc fx.Lifecycle, r *Runner, appCtx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go r.Start(appCtx)
					return nil
				},
			})
		}),
	)
}
