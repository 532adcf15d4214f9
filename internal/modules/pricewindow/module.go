package pricewindow

import (
	"paper_bot/internal/modules/pricewindow/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("pricewindow",
		fx.Provide(
			service.NewAggregator,
		),
	)
}
