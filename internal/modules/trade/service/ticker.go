package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	"paper_bot/internal/modules/metrics"
	schedservice "paper_bot/internal/modules/scheduler/service"
	signal "paper_bot/internal/modules/signal/service"
	"paper_bot/internal/notify"
	"paper_bot/pkg/logger"
)

// TickResult is the per-cycle entry report handed back to the driver.
type TickResult struct {
	SymbolsProcessed int
	TradesOpened     int
	TradesSkipped    int
	SkipBreakdown    map[string]int
}

// Ticker runs the entry half of a cycle: propose entries from fresh candles,
// open trades where a signal fires and the slot is free.
type Ticker struct {
	cfg      *config.Config
	market   MarketReader
	engine   *signal.Engine
	sched    *schedservice.Scheduler
	manager  *Manager
	notifier notify.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewTicker(
	cfg *config.Config,
	market MarketReader,
	engine *signal.Engine,
	sched *schedservice.Scheduler,
	manager *Manager,
	notifier notify.Notifier,
	m *metrics.Metrics,
) *Ticker {
	return &Ticker{
		cfg:      cfg,
		market:   market,
		engine:   engine,
		sched:    sched,
		manager:  manager,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

// Process walks active instruments, bounded by limit when positive.
// Instruments run in parallel; per-instrument failures are contained and
// counted, never aborting the batch.
func (tk *Ticker) Process(ctx context.Context, limit int) (TickResult, error) {
	instruments, err := tk.market.ActiveInstruments(ctx)
	if err != nil {
		return TickResult{}, errors.Wrap(err, "tick: list instruments")
	}
	if limit > 0 && len(instruments) > limit {
		instruments = instruments[:limit]
	}

	res := TickResult{SkipBreakdown: make(map[string]int)}
	var mu sync.Mutex

	workers := tk.cfg.Scheduler.ParallelInstrument
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan models.Instrument)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inst := range jobs {
				opened, skips := tk.processInstrument(ctx, inst)

				mu.Lock()
				res.SymbolsProcessed++
				res.TradesOpened += opened
				for reason, n := range skips {
					res.TradesSkipped += n
					res.SkipBreakdown[reason] += n
				}
				mu.Unlock()
			}
		}()
	}

	for _, inst := range instruments {
		jobs <- inst
	}
	close(jobs)
	wg.Wait()

	return res, nil
}

func (tk *Ticker) processInstrument(ctx context.Context, inst models.Instrument) (opened int, skips map[string]int) {
	skips = make(map[string]int)
	now := tk.now()

	for _, tfRaw := range tk.cfg.Strategy.Timeframes {
		tf := models.Timeframe(tfRaw)
		reason, ok := tk.tryOpen(ctx, inst, tf, now)
		if ok {
			opened++
			continue
		}
		skips[reason]++
		tk.metrics.TickSkip(reason)
	}
	return opened, skips
}

func (tk *Ticker) tryOpen(ctx context.Context, inst models.Instrument, tf models.Timeframe, now time.Time) (skipReason string, opened bool) {
	if !tk.sched.IsInTradingWindow(inst, now) {
		return models.ReasonOutOfSession, false
	}

	quote, ok, err := tk.market.LatestQuote(ctx, inst.ID)
	if err != nil {
		logger.Error("tick %s %s: quote: %v", inst.Code, tf, err)
		tk.metrics.CycleError("tick")
		return "error", false
	}
	if !ok {
		return models.ReasonMissingQuote, false
	}
	if quote.Age(now) > time.Duration(tk.cfg.Strategy.Exit.QuoteMaxAgeSec)*time.Second {
		return models.ReasonStaleQuote, false
	}

	// cheap pre-check; the real guarantee is the storage unique index
	if _, exists, err := tk.manager.store.GetOpenByKey(ctx, inst.ID, tf); err != nil {
		logger.Error("tick %s %s: open check: %v", inst.Code, tf, err)
		tk.metrics.CycleError("tick")
		return "error", false
	} else if exists {
		return models.ReasonAlreadyOpen, false
	}

	candles, err := tk.market.LastCandles(ctx, inst.ID, tf, CandleLookback(tk.cfg))
	if err != nil {
		logger.Error("tick %s %s: candles: %v", inst.Code, tf, err)
		tk.metrics.CycleError("tick")
		return "error", false
	}

	dec := tk.engine.Decide(candles)
	if dec.Action != models.EntryOpen {
		return dec.Reason, false
	}

	if confirmed, reason := tk.confirm(ctx, inst, dec.Side); !confirmed {
		return reason, false
	}

	trade, err := tk.manager.Open(ctx, inst, tf, dec, quote.Price, tk.cfg.Strategy.Risk)
	if errors.Is(err, ErrAlreadyOpen) {
		return models.ReasonAlreadyOpen, false
	}
	if err != nil {
		logger.Error("tick %s %s: open: %v", inst.Code, tf, err)
		tk.metrics.CycleError("tick")
		return "error", false
	}

	tk.metrics.Opened(string(trade.Side))
	if tk.notifier != nil {
		tk.notifier.Sendf("[%s %s] opened %s @ %.5f (trade %d)",
			inst.Code, tf, trade.Side, trade.EntryPrice, trade.ID)
	}
	logger.Info("tick %s %s: opened %s trade %d @ %v", inst.Code, tf, trade.Side, trade.ID, trade.EntryPrice)
	return "", true
}

// confirm applies the weighted vote across every configured timeframe, the
// proposing one included: its own agreement carries its weight.
func (tk *Ticker) confirm(ctx context.Context, inst models.Instrument, side models.Side) (bool, string) {
	if len(tk.cfg.Strategy.Timeframes) < 2 {
		return true, ""
	}

	byTF := make(map[models.Timeframe][]models.Candle)
	for _, tfRaw := range tk.cfg.Strategy.Timeframes {
		tf := models.Timeframe(tfRaw)
		candles, err := tk.market.LastCandles(ctx, inst.ID, tf, CandleLookback(tk.cfg))
		if err != nil {
			continue // missing confirmation data weakens the vote, nothing more
		}
		byTF[tf] = candles
	}
	return tk.engine.Confirm(side, byTF)
}

func CandleLookback(cfg *config.Config) int {
	n := signal.MinCandles + 1 // one spare for the forming bar
	if lb := cfg.Strategy.Flat.LookbackCandles; lb+1 > n {
		n = lb + 1
	}
	return n
}
