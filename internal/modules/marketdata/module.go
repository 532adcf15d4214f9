package marketdata

import (
	"context"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	healthservice "paper_bot/internal/modules/health/service"
	"paper_bot/internal/modules/marketdata/service"
	pwservice "paper_bot/internal/modules/pricewindow/service"
	"paper_bot/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("marketdata",
		fx.Provide(
			service.NewPgStore,
			func(s *service.PgStore) service.Store { return s },
			func(s *service.PgStore) pwservice.TickSource { return s },
			service.NewHTTPProvider,
			func(p *service.HTTPProvider) service.MarketDataProvider { return p },
			func(p *service.HTTPProvider) service.FxQuotePool { return p },
			service.NewSyncer,
			service.NewStreamer,
		),

		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, cfg *config.Config, store *service.PgStore, streamer *service.Streamer, state *healthservice.State) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					seeds := make([]models.Instrument, 0, len(cfg.Instruments))
					for _, s := range cfg.Instruments {
						seeds = append(seeds, models.Instrument{
							Code:      s.Code,
							Active:    s.Active,
							PointSize: s.PointSize,
							Precision: s.Precision,
						})
					}
					if err := store.SeedInstruments(ctx, seeds); err != nil {
						return err
					}

					active, err := store.ActiveInstruments(ctx)
					if err != nil {
						return err
					}
					logger.Info("marketdata: %d active instruments", len(active))

					streamer.SetInstruments(active)
					streamer.OnStateChange(state.SetStreamConnected)
					go streamer.Run(appCtx)

					state.SetReady(true)
					return nil
				},
			})
		}),
	)
}
