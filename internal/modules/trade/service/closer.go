package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	"paper_bot/internal/modules/metrics"
	pwservice "paper_bot/internal/modules/pricewindow/service"
	"paper_bot/internal/notify"
	"paper_bot/pkg/logger"
)

const defaultCloseBatch = 500

// CloseResult is the per-cycle exit report.
type CloseResult struct {
	Processed    int
	Closed       int
	Held         int
	SkipCounters map[string]int
}

// Closer runs the exit half of a cycle over every open trade.
type Closer struct {
	cfg       *config.Config
	market    MarketReader
	windows   WindowSource
	evaluator *Evaluator
	manager   *Manager
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewCloser(
	cfg *config.Config,
	market MarketReader,
	windows WindowSource,
	evaluator *Evaluator,
	manager *Manager,
	notifier notify.Notifier,
	m *metrics.Metrics,
) *Closer {
	return &Closer{
		cfg:       cfg,
		market:    market,
		windows:   windows,
		evaluator: evaluator,
		manager:   manager,
		notifier:  notifier,
		metrics:   m,
		now:       time.Now,
	}
}

// Process evaluates every open trade once. Trades run in parallel; the row
// lock in the store serializes mutations per trade id, so overlap with a
// concurrent cycle is safe.
func (c *Closer) Process(ctx context.Context, limit int) (CloseResult, error) {
	if limit <= 0 {
		limit = defaultCloseBatch
	}
	open, err := c.manager.store.ListOpen(ctx, limit)
	if err != nil {
		return CloseResult{}, errors.Wrap(err, "close: list open trades")
	}

	instruments, err := c.market.ActiveInstruments(ctx)
	if err != nil {
		return CloseResult{}, errors.Wrap(err, "close: list instruments")
	}
	byID := make(map[int64]models.Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
	}

	res := CloseResult{SkipCounters: make(map[string]int)}
	var mu sync.Mutex

	workers := c.cfg.Scheduler.ParallelInstrument
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan *models.Trade)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				closed, reason := c.processTrade(ctx, t, byID)

				mu.Lock()
				res.Processed++
				if closed {
					res.Closed++
				} else {
					res.Held++
					res.SkipCounters[reason]++
				}
				mu.Unlock()
			}
		}()
	}

	for _, t := range open {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	return res, nil
}

func (c *Closer) processTrade(ctx context.Context, t *models.Trade, instruments map[int64]models.Instrument) (closed bool, holdReason string) {
	inst, ok := instruments[t.InstrumentID]
	if !ok {
		return false, "unknown_instrument"
	}

	in := ExitInput{
		Trade:      t,
		Instrument: inst,
		Now:        c.now(),
	}

	quote, ok, err := c.market.LatestQuote(ctx, t.InstrumentID)
	if err != nil {
		logger.Error("close trade %d: quote: %v", t.ID, err)
		c.metrics.CycleError("close")
		return false, "error"
	}
	if ok {
		in.Quote = &quote
	}

	candles, err := c.market.LastCandles(ctx, t.InstrumentID, t.Timeframe, closeCandleLookback)
	if err == nil {
		in.Candles = candles
	} else {
		logger.Error("close trade %d: candles: %v", t.ID, err)
	}

	in.Windows = c.evalWindows(ctx, t)

	dec := c.evaluator.Evaluate(in)

	// unrealized points are refreshed every cycle whatever rule fired
	if in.Quote != nil {
		if _, err := c.manager.UpdateUnrealized(ctx, t.ID, in.Quote.Price, inst.PointSize); err != nil {
			logger.Error("close trade %d: unrealized: %v", t.ID, err)
		}
		if dec.BestPrice != t.Audit.BestPrice {
			if _, err := c.manager.ApplyBestPrice(ctx, t.ID, dec.BestPrice); err != nil {
				logger.Error("close trade %d: best price: %v", t.ID, err)
			}
		}
	}

	if dec.Action != models.ExitClose {
		c.metrics.CloseHold(dec.Reason)
		return false, dec.Reason
	}

	didClose, err := c.manager.Close(ctx, t.ID, dec.ExitPrice, dec.Reason, inst.PointSize)
	if err != nil {
		logger.Error("close trade %d: %v", t.ID, err)
		c.metrics.CycleError("close")
		return false, "error"
	}
	if !didClose {
		// lost the race to a concurrent close; nothing was written
		return false, "already_closed"
	}

	c.metrics.Closed(dec.Reason, string(t.Side))
	if c.notifier != nil {
		c.notifier.Sendf("[%s %s] closed %s trade %d @ %.5f (%s)",
			inst.Code, t.Timeframe, t.Side, t.ID, dec.ExitPrice, dec.Reason)
	}
	logger.Info("close %s %s: trade %d closed @ %v (%s)", inst.Code, t.Timeframe, t.ID, dec.ExitPrice, dec.Reason)
	return true, ""
}

// evalWindows gathers the fine-path reversal windows; a failed window is
// simply absent, which the vote treats as no signal.
func (c *Closer) evalWindows(ctx context.Context, t *models.Trade) map[models.Timeframe]pwservice.Result {
	specs := c.cfg.Strategy.PriceWindows.Windows
	out := make(map[models.Timeframe]pwservice.Result)

	for _, tfRaw := range c.cfg.Strategy.Exit.ReversalTimeframes {
		spec, ok := specs[tfRaw]
		if !ok {
			continue
		}
		res, err := c.windows.Evaluate(ctx, t.InstrumentID, spec.Minutes, spec.Points)
		if err != nil {
			logger.Error("close trade %d: window %s: %v", t.ID, tfRaw, err)
			continue
		}
		out[models.Timeframe(tfRaw)] = res
	}
	return out
}

// three closed bars for the coarse HA check plus one forming bar
const closeCandleLookback = 4
