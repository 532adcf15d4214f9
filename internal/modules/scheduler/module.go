package scheduler

import (
	"paper_bot/internal/modules/scheduler/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("scheduler",
		fx.Provide(
			service.NewScheduler,
		),
	)
}
