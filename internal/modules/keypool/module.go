package keypool

import (
	"paper_bot/internal/modules/config"
	"paper_bot/internal/modules/keypool/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("keypool",
		fx.Provide(
			func(cfg *config.Config) (*service.Pool, error) {
				return service.NewPool(
					cfg.Provider.Keys,
					cfg.ProviderCooldown(),
					cfg.Provider.RequestsPerSec,
				)
			},
		),
	)
}
