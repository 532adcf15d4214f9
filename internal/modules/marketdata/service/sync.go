package service

import (
	"context"
	"fmt"
	"time"

	"paper_bot/internal/helper"
	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	keypool "paper_bot/internal/modules/keypool/service"
	"paper_bot/pkg/logger"
)

// Store is the persistence seam for the sync path.
type Store interface {
	SaveQuote(ctx context.Context, q models.Quote) error
	SaveCandles(ctx context.Context, candles []models.Candle) error
	TrimTicksBefore(ctx context.Context, cutoff time.Time) error
}

// Syncer refreshes quotes, ticks and candles ahead of a decision cycle.
type Syncer struct {
	cfg   *config.Config
	pool  *keypool.Pool
	fx    FxQuotePool
	md    MarketDataProvider
	store Store
	now   func() time.Time
}

func NewSyncer(cfg *config.Config, pool *keypool.Pool, fx FxQuotePool, md MarketDataProvider, store Store) *Syncer {
	return &Syncer{
		cfg:   cfg,
		pool:  pool,
		fx:    fx,
		md:    md,
		store: store,
		now:   time.Now,
	}
}

// SyncQuotes prices the given instruments in one batch through the key pool
// and persists a quote plus a tick-log row for each priced code. Codes the
// provider could not price are skipped silently.
func (s *Syncer) SyncQuotes(ctx context.Context, instruments []models.Instrument) (map[int64]float64, error) {
	if len(instruments) == 0 {
		return nil, nil
	}

	codes := make([]string, len(instruments))
	for i, inst := range instruments {
		codes[i] = inst.Code
	}

	var prices map[string]float64
	err := s.pool.WithFailover(ctx, func(ctx context.Context, key string) error {
		var perr error
		prices, perr = s.fx.BatchQuotes(ctx, key, codes)
		return perr
	})
	if err != nil {
		return nil, fmt.Errorf("Syncer.SyncQuotes: %w", err)
	}

	now := s.now()
	out := make(map[int64]float64, len(prices))
	for _, inst := range instruments {
		price, ok := prices[inst.Code]
		if !ok {
			// per-code fallback for what the batch could not price
			lp, has, lpErr := s.md.LastPrice(ctx, inst.Code)
			if lpErr != nil || !has {
				continue
			}
			price = lp
		}
		if inst.Precision > 0 {
			price = helper.RoundTo(price, inst.Precision)
		}
		q := models.Quote{
			InstrumentID: inst.ID,
			Price:        price,
			PulledAt:     now,
			Source:       "fx_pool",
		}
		if err := s.store.SaveQuote(ctx, q); err != nil {
			// one bad row must not sink the batch
			logger.Error("sync quotes: save %s: %v", inst.Code, err)
			continue
		}
		out[inst.ID] = price
	}
	return out, nil
}

// SyncCandles refreshes bars for one (instrument, timeframe). A provider
// "no data" comes back as (0, nil).
func (s *Syncer) SyncCandles(ctx context.Context, inst models.Instrument, tf models.Timeframe) (int, error) {
	candles, err := s.md.Candles(ctx, inst.Code, tf, s.cfg.Provider.CandleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("Syncer.SyncCandles %s %s: %w", inst.Code, tf, err)
	}
	if len(candles) == 0 {
		return 0, nil
	}

	for i := range candles {
		candles[i].InstrumentID = inst.ID
	}
	if err := s.store.SaveCandles(ctx, candles); err != nil {
		return 0, fmt.Errorf("Syncer.SyncCandles %s %s: %w", inst.Code, tf, err)
	}
	return len(candles), nil
}

// TrimTicks drops tick-log rows no window can ever read again.
func (s *Syncer) TrimTicks(ctx context.Context) error {
	horizon := s.maxWindowMinutes() * 2
	if horizon == 0 {
		return nil
	}
	cutoff := s.now().Add(-time.Duration(horizon) * time.Minute)
	return s.store.TrimTicksBefore(ctx, cutoff)
}

func (s *Syncer) maxWindowMinutes() int {
	maxMin := 0
	for _, w := range s.cfg.Strategy.PriceWindows.Windows {
		if w.Minutes > maxMin {
			maxMin = w.Minutes
		}
	}
	return maxMin
}
