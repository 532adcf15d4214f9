package runner

import (
	"context"
	"sync"
	"time"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	healthservice "paper_bot/internal/modules/health/service"
	keypool "paper_bot/internal/modules/keypool/service"
	mdservice "paper_bot/internal/modules/marketdata/service"
	"paper_bot/internal/modules/metrics"
	schedservice "paper_bot/internal/modules/scheduler/service"
	tradeservice "paper_bot/internal/modules/trade/service"
	"paper_bot/pkg/logger"
	"paper_bot/pkg/tracing"
)

// QuoteDirectory reads the latest quote per instrument in one shot; the sync
// phase uses it to decide which pulls are due.
type QuoteDirectory interface {
	AllQuotes(ctx context.Context) (map[int64]models.Quote, error)
}

// Runner drives one full engine cycle on a fixed period: ingest, entries,
// exits, projections, housekeeping. Phases are contained per-cycle; a failing
// phase is logged and counted, never fatal.
type Runner struct {
	cfg     *config.Config
	syncer  *mdservice.Syncer
	quotes  QuoteDirectory
	market  tradeservice.MarketReader
	trades  tradeservice.TradeStore
	sched   *schedservice.Scheduler
	ticker  *tradeservice.Ticker
	closer  *tradeservice.Closer
	monitor *tradeservice.MonitorBuilder
	pool    *keypool.Pool
	metrics *metrics.Metrics
	health  *healthservice.State

	running sync.Mutex // held while a cycle is in flight
	now     func() time.Time
}

func New(
	cfg *config.Config,
	syncer *mdservice.Syncer,
	quotes QuoteDirectory,
	market tradeservice.MarketReader,
	trades tradeservice.TradeStore,
	sched *schedservice.Scheduler,
	ticker *tradeservice.Ticker,
	closer *tradeservice.Closer,
	monitor *tradeservice.MonitorBuilder,
	pool *keypool.Pool,
	m *metrics.Metrics,
	health *healthservice.State,
) *Runner {
	return &Runner{
		cfg:     cfg,
		syncer:  syncer,
		quotes:  quotes,
		market:  market,
		trades:  trades,
		sched:   sched,
		ticker:  ticker,
		closer:  closer,
		monitor: monitor,
		pool:    pool,
		metrics: m,
		health:  health,
		now:     time.Now,
	}
}

func (r *Runner) Start(ctx context.Context) {
	period := time.Duration(r.cfg.Scheduler.CycleEverySec) * time.Second
	if period <= 0 {
		period = time.Minute
	}
	logger.Info("runner: cycle every %s", period)

	tick := time.NewTicker(period)
	defer tick.Stop()

	r.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("runner: stopped")
			return
		case <-tick.C:
			r.Cycle(ctx)
		}
	}
}

// Cycle runs every phase once. A cycle still in flight when the next tick
// lands makes the new tick a no-op rather than piling up.
func (r *Runner) Cycle(ctx context.Context) {
	if !r.running.TryLock() {
		logger.Warn("runner: previous cycle still running, skipping")
		return
	}
	defer r.running.Unlock()

	span, ctx := tracing.StartSpan(ctx, "runner.cycle")
	defer span.Finish()

	started := r.now()

	r.phase(ctx, "sync", r.syncPhase)
	r.phase(ctx, "tick", r.tickPhase)
	r.phase(ctx, "close", r.closePhase)
	r.phase(ctx, "monitor", r.monitorPhase)
	r.phase(ctx, "trim", r.syncer.TrimTicks)

	r.refreshGauges(ctx)
	r.health.TouchCycle(r.now())
	logger.Info("runner: cycle done in %s", r.now().Sub(started).Round(time.Millisecond))
}

func (r *Runner) phase(ctx context.Context, name string, fn func(context.Context) error) {
	span, ctx := tracing.StartSpan(ctx, "runner."+name)
	defer span.Finish()

	if err := fn(ctx); err != nil {
		logger.Error("runner: %s phase: %v", name, err)
		r.metrics.CycleError(name)
	}
}

// syncPhase pulls quotes and candles for every instrument whose quote is due
// under its session schedule, then leaves the rest of the cycle to read from
// storage only.
func (r *Runner) syncPhase(ctx context.Context) error {
	instruments, err := r.market.ActiveInstruments(ctx)
	if err != nil {
		return err
	}

	withOpen, err := r.instrumentsWithOpenTrades(ctx)
	if err != nil {
		return err
	}
	latest, err := r.quotes.AllQuotes(ctx)
	if err != nil {
		return err
	}

	due := make([]models.Instrument, 0, len(instruments))
	now := r.now()
	for _, inst := range instruments {
		var lastPulled *time.Time
		if q, ok := latest[inst.ID]; ok {
			lastPulled = &q.PulledAt
		}
		if r.sched.IsQuoteDue(inst, lastPulled, withOpen[inst.ID], now) {
			due = append(due, inst)
		}
	}
	if len(due) == 0 {
		return nil
	}

	priced, err := r.syncer.SyncQuotes(ctx, due)
	if err != nil {
		return err
	}
	logger.Info("runner: synced quotes for %d/%d due instruments", len(priced), len(due))

	for _, inst := range due {
		for _, tfRaw := range r.cfg.Strategy.Timeframes {
			tf, err := models.ParseTimeframe(tfRaw)
			if err != nil {
				continue
			}
			if _, err := r.syncer.SyncCandles(ctx, inst, tf); err != nil {
				logger.Error("runner: candles %s %s: %v", inst.Code, tf, err)
				r.metrics.CycleError("sync")
			}
		}
	}
	return nil
}

func (r *Runner) tickPhase(ctx context.Context) error {
	res, err := r.ticker.Process(ctx, 0)
	if err != nil {
		return err
	}
	if res.TradesOpened > 0 || res.TradesSkipped > 0 {
		logger.Info("runner: tick processed=%d opened=%d skipped=%v",
			res.SymbolsProcessed, res.TradesOpened, res.SkipBreakdown)
	}
	return nil
}

func (r *Runner) closePhase(ctx context.Context) error {
	res, err := r.closer.Process(ctx, 0)
	if err != nil {
		return err
	}
	if res.Processed > 0 {
		logger.Info("runner: close processed=%d closed=%d held=%d",
			res.Processed, res.Closed, res.Held)
	}
	return nil
}

func (r *Runner) monitorPhase(ctx context.Context) error {
	return r.monitor.Rebuild(ctx, tradeservice.CandleLookback(r.cfg))
}

func (r *Runner) instrumentsWithOpenTrades(ctx context.Context) (map[int64]bool, error) {
	open, err := r.trades.ListOpen(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(open))
	for _, t := range open {
		out[t.InstrumentID] = true
	}
	return out, nil
}

func (r *Runner) refreshGauges(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	if open, err := r.trades.ListOpen(ctx, 0); err == nil {
		r.metrics.OpenTrades.Set(float64(len(open)))
	}
	r.metrics.PoolCooldowns.Set(float64(r.pool.CoolingCount()))
}
