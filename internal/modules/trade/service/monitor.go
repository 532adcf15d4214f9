package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	sigservice "paper_bot/internal/modules/signal/service"
	"paper_bot/pkg/logger"
)

// MonitorStore persists the dashboard projection.
type MonitorStore interface {
	UpsertMonitor(ctx context.Context, m models.TradeMonitor) error
	PruneMonitors(ctx context.Context, keepTimeframes []string) error
}

// MonitorBuilder rebuilds the trade_monitors projection from scratch every
// cycle: current expectation per (instrument, timeframe) plus a link to the
// open trade holding that slot, if any.
type MonitorBuilder struct {
	cfg    *config.Config
	market MarketReader
	engine *sigservice.Engine
	trades TradeStore
	store  MonitorStore
	now    func() time.Time
}

func NewMonitorBuilder(
	cfg *config.Config,
	market MarketReader,
	engine *sigservice.Engine,
	trades TradeStore,
	store MonitorStore,
) *MonitorBuilder {
	return &MonitorBuilder{
		cfg:    cfg,
		market: market,
		engine: engine,
		trades: trades,
		store:  store,
		now:    time.Now,
	}
}

func (b *MonitorBuilder) Rebuild(ctx context.Context, lookback int) error {
	instruments, err := b.market.ActiveInstruments(ctx)
	if err != nil {
		return errors.Wrap(err, "monitor: list instruments")
	}

	for _, inst := range instruments {
		for _, tfRaw := range b.cfg.Strategy.Timeframes {
			tf, err := models.ParseTimeframe(tfRaw)
			if err != nil {
				continue
			}
			if err := b.rebuildOne(ctx, inst, tf, lookback); err != nil {
				logger.Error("monitor %s %s: %v", inst.Code, tf, err)
			}
		}
	}

	if err := b.store.PruneMonitors(ctx, b.cfg.Strategy.Timeframes); err != nil {
		return errors.Wrap(err, "monitor: prune")
	}
	return nil
}

func (b *MonitorBuilder) rebuildOne(ctx context.Context, inst models.Instrument, tf models.Timeframe, lookback int) error {
	candles, err := b.market.LastCandles(ctx, inst.ID, tf, lookback)
	if err != nil {
		return errors.Wrap(err, "candles")
	}
	dec := b.engine.Decide(candles)

	row := models.TradeMonitor{
		InstrumentID: inst.ID,
		Timeframe:    tf,
		Expectation:  expectation(dec),
		UpdatedAt:    b.now(),
	}

	open, ok, err := b.trades.GetOpenByKey(ctx, inst.ID, tf)
	if err != nil {
		return errors.Wrap(err, "open trade")
	}
	if ok {
		row.OpenTradeID = &open.ID
	}

	return b.store.UpsertMonitor(ctx, row)
}

// expectation renders a decision as the short dashboard label.
func expectation(dec models.EntryDecision) string {
	if dec.Action == models.EntryOpen {
		return string(dec.Side)
	}
	return dec.Reason
}
