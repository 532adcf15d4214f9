package trade

import (
	"paper_bot/internal/modules/config"
	mdservice "paper_bot/internal/modules/marketdata/service"
	pwservice "paper_bot/internal/modules/pricewindow/service"
	"paper_bot/internal/modules/trade/service"
	"paper_bot/internal/notify"
	"paper_bot/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("trade",
		fx.Provide(
			service.NewPgTradeStore,
			func(s *service.PgTradeStore) service.TradeStore { return s },
			func(s *service.PgTradeStore) service.MonitorStore { return s },
			func(s *mdservice.PgStore) service.MarketReader { return s },
			func(a *pwservice.Aggregator) service.WindowSource { return a },
			newNotifier,
			service.NewManager,
			service.NewEvaluator,
			service.NewTicker,
			service.NewCloser,
			service.NewMonitorBuilder,
		),
	)
}

func newNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Telegram.Token == "" {
		return notify.Nop{}
	}
	n, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		logger.Error("telegram notifier disabled: %v", err)
		return notify.Nop{}
	}
	return n
}
