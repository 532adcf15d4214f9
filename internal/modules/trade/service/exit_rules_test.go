package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	pwservice "paper_bot/internal/modules/pricewindow/service"
)

func exitConfig(mode string) *config.Config {
	cfg := &config.Config{}
	cfg.Strategy.Risk = config.RiskSettings{
		MaxHoldMinutes: 240,
		Trailing: config.TrailingSettings{
			Pct:                 0.25,
			MinProfitToTrailPct: 0.2,
		},
	}
	cfg.Strategy.Exit = config.ExitSettings{
		Mode:                 mode,
		QuoteMaxAgeSec:       120,
		CoarseQuoteMaxAgeSec: 600,
		HardStopPct:          0.5,
		ReversalMinCount:     2,
		ReversalMinStrength:  0.001,
	}
	return cfg
}

func openTrade(side models.Side, openedAgo time.Duration, now time.Time) *models.Trade {
	return &models.Trade{
		ID:             1,
		Side:           side,
		Status:         models.TradeOpen,
		OpenedAt:       now.Add(-openedAgo),
		EntryPrice:     100,
		MaxHoldMinutes: 240,
		Audit:          models.TradeAudit{BestPrice: 100},
	}
}

func quoteAt(price float64, age time.Duration, now time.Time) *models.Quote {
	return &models.Quote{Price: price, PulledAt: now.Add(-age)}
}

// Three closed bars (bar0 seeds the recurrence, bar1 and bar2 point up) plus
// the still-forming fourth bar, the shape the close path fetches.
func trendingCandles() []models.Candle {
	return []models.Candle{
		{Open: 10, High: 12, Low: 9, Close: 11},
		{Open: 11, High: 13, Low: 10, Close: 12},
		{Open: 12, High: 14, Low: 11, Close: 13},
		{Open: 13, High: 15, Low: 12, Close: 14},
	}
}

// Closed bar1 points up, closed bar2 flips down; the forming bar keeps falling.
func reversingCandles() []models.Candle {
	return []models.Candle{
		{Open: 10, High: 12, Low: 9, Close: 11},
		{Open: 11, High: 13, Low: 10, Close: 12},
		{Open: 12, High: 12.5, Low: 9, Close: 9.5},
		{Open: 9.5, High: 10, Low: 8.5, Close: 9},
	}
}

func TestEvaluateQuoteGates(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator(exitConfig("both"))

	t.Run("missing quote holds", func(t *testing.T) {
		dec := e.Evaluate(ExitInput{
			Trade: openTrade(models.SideBuy, 10*time.Minute, now),
			Now:   now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
		assert.Equal(t, models.ReasonMissingQuote, dec.Reason)
	})

	t.Run("quote older than the loosest threshold holds", func(t *testing.T) {
		dec := e.Evaluate(ExitInput{
			Trade: openTrade(models.SideBuy, 10*time.Minute, now),
			Quote: quoteAt(100, 601*time.Second, now),
			Now:   now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
		assert.Equal(t, models.ReasonStaleQuote, dec.Reason)
	})

	t.Run("quote too old for fine but fresh enough for coarse", func(t *testing.T) {
		// the window vote would close, but at 5 minutes only the coarse
		// path is still live and the candles show no flip
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(100, 5*time.Minute, now),
			Candles: trendingCandles(),
			Windows: map[models.Timeframe]pwservice.Result{
				models.TF5m:  {Direction: models.DirDown, DirPct: 0.01},
				models.TF15m: {Direction: models.DirDown, DirPct: 0.01},
			},
			Now: now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
		assert.Equal(t, models.ReasonNoExitSignal, dec.Reason)
	})
}

func TestEvaluatePriority(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator(exitConfig("both"))

	t.Run("time stop wins over hard stop", func(t *testing.T) {
		// price breaches the hard stop AND the hold time is exceeded
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 300*time.Minute, now),
			Quote:   quoteAt(99, 10*time.Second, now),
			Candles: trendingCandles(),
			Now:     now,
		})
		require.Equal(t, models.ExitClose, dec.Action)
		assert.Equal(t, models.ReasonTimeStop, dec.Reason)
		assert.Equal(t, 99.0, dec.ExitPrice)
	})

	t.Run("hard stop wins over ha reversal", func(t *testing.T) {
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(99.4, 10*time.Second, now),
			Candles: reversingCandles(),
			Now:     now,
		})
		require.Equal(t, models.ExitClose, dec.Action)
		assert.Equal(t, models.ReasonHardStop, dec.Reason)
	})
}

func TestEvaluateHardStop(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator(exitConfig("both"))

	tests := []struct {
		name   string
		side   models.Side
		price  float64
		closes bool
	}{
		{"buy below stop", models.SideBuy, 99.4, true},
		{"buy exactly at stop", models.SideBuy, 99.5, true},
		{"buy above stop", models.SideBuy, 99.6, false},
		{"sell above stop", models.SideSell, 100.6, true},
		{"sell below stop", models.SideSell, 100.4, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dec := e.Evaluate(ExitInput{
				Trade:   openTrade(tt.side, 10*time.Minute, now),
				Quote:   quoteAt(tt.price, 10*time.Second, now),
				Candles: trendingCandles(),
				Now:     now,
			})
			if tt.closes {
				assert.Equal(t, models.ExitClose, dec.Action)
				assert.Equal(t, models.ReasonHardStop, dec.Reason)
			} else {
				assert.Equal(t, models.ExitHold, dec.Action)
			}
		})
	}
}

func TestEvaluateHaReversal(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator(exitConfig("both"))

	t.Run("flip against a buy closes", func(t *testing.T) {
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(100.2, 10*time.Second, now),
			Candles: reversingCandles(),
			Now:     now,
		})
		require.Equal(t, models.ExitClose, dec.Action)
		assert.Equal(t, models.ReasonHaReversal, dec.Reason)
	})

	t.Run("flip in the trade's favor holds a sell", func(t *testing.T) {
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideSell, 10*time.Minute, now),
			Quote:   quoteAt(100.2, 10*time.Second, now),
			Candles: reversingCandles(),
			Now:     now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
	})

	t.Run("flip only in the forming bar holds", func(t *testing.T) {
		candles := trendingCandles()
		candles[3] = models.Candle{Open: 13, High: 13.5, Low: 10, Close: 10.5}
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(100.2, 10*time.Second, now),
			Candles: candles,
			Now:     now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
		assert.Equal(t, models.ReasonNoExitSignal, dec.Reason)
	})

	t.Run("too few closed candles holds", func(t *testing.T) {
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(100.2, 10*time.Second, now),
			Candles: trendingCandles()[:3],
			Now:     now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
		assert.Equal(t, models.ReasonNotEnoughCandles, dec.Reason)
	})
}

func TestEvaluateWindowReversal(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator(exitConfig("both"))

	against := map[models.Timeframe]pwservice.Result{
		models.TF5m:  {Direction: models.DirDown, DirPct: 0.01},
		models.TF15m: {Direction: models.DirDown, DirPct: 0.01},
	}

	t.Run("enough strong windows against a buy closes", func(t *testing.T) {
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(100.2, 10*time.Second, now),
			Candles: trendingCandles(),
			Windows: against,
			Now:     now,
		})
		require.Equal(t, models.ExitClose, dec.Action)
		assert.Equal(t, models.ReasonReversal, dec.Reason)
	})

	t.Run("one window is below the vote threshold", func(t *testing.T) {
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(100.2, 10*time.Second, now),
			Candles: trendingCandles(),
			Windows: map[models.Timeframe]pwservice.Result{
				models.TF5m: {Direction: models.DirDown, DirPct: 0.01},
			},
			Now: now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
	})

	t.Run("weak windows do not count", func(t *testing.T) {
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(100.2, 10*time.Second, now),
			Candles: trendingCandles(),
			Windows: map[models.Timeframe]pwservice.Result{
				models.TF5m:  {Direction: models.DirDown, DirPct: 0.0001},
				models.TF15m: {Direction: models.DirDown, DirPct: 0.0001},
			},
			Now: now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
	})
}

func TestEvaluateTrailingStop(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator(exitConfig("both"))

	t.Run("armed and drawdown exceeded closes", func(t *testing.T) {
		tr := openTrade(models.SideBuy, 10*time.Minute, now)
		tr.Audit.BestPrice = 101 // 1% over entry, past activation
		dec := e.Evaluate(ExitInput{
			Trade:   tr,
			Quote:   quoteAt(100.7, 10*time.Second, now),
			Candles: trendingCandles(),
			Now:     now,
		})
		require.Equal(t, models.ExitClose, dec.Action)
		assert.Equal(t, models.ReasonTrailingStop, dec.Reason)
		assert.Equal(t, 100.7, dec.ExitPrice)
	})

	t.Run("not armed below the activation profit", func(t *testing.T) {
		tr := openTrade(models.SideBuy, 10*time.Minute, now)
		tr.Audit.BestPrice = 100.15 // 0.15% profit, under the 0.2% gate
		dec := e.Evaluate(ExitInput{
			Trade:   tr,
			Quote:   quoteAt(99.8, 10*time.Second, now),
			Candles: trendingCandles(),
			Now:     now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
		assert.Equal(t, models.ReasonNoExitSignal, dec.Reason)
	})

	t.Run("sell trails from the low", func(t *testing.T) {
		tr := openTrade(models.SideSell, 10*time.Minute, now)
		tr.Audit.BestPrice = 99 // 1% profit for a sell
		dec := e.Evaluate(ExitInput{
			Trade:   tr,
			Quote:   quoteAt(99.3, 10*time.Second, now),
			Candles: trendingCandles(),
			Now:     now,
		})
		require.Equal(t, models.ExitClose, dec.Action)
		assert.Equal(t, models.ReasonTrailingStop, dec.Reason)
	})
}

func TestEvaluateModeGates(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	against := map[models.Timeframe]pwservice.Result{
		models.TF5m:  {Direction: models.DirDown, DirPct: 0.01},
		models.TF15m: {Direction: models.DirDown, DirPct: 0.01},
	}

	t.Run("coarse mode ignores windows", func(t *testing.T) {
		e := NewEvaluator(exitConfig("coarse"))
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(100.2, 10*time.Second, now),
			Candles: trendingCandles(),
			Windows: against,
			Now:     now,
		})
		assert.Equal(t, models.ExitHold, dec.Action)
		assert.Equal(t, models.ReasonNoExitSignal, dec.Reason)
	})

	t.Run("fine mode ignores the ha flip", func(t *testing.T) {
		e := NewEvaluator(exitConfig("fine"))
		dec := e.Evaluate(ExitInput{
			Trade:   openTrade(models.SideBuy, 10*time.Minute, now),
			Quote:   quoteAt(100.2, 10*time.Second, now),
			Candles: reversingCandles(),
			Windows: against,
			Now:     now,
		})
		require.Equal(t, models.ExitClose, dec.Action)
		assert.Equal(t, models.ReasonReversal, dec.Reason)
	})
}

func TestEvaluateBestPriceProposal(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator(exitConfig("both"))

	t.Run("buy proposal moves up only", func(t *testing.T) {
		tr := openTrade(models.SideBuy, 10*time.Minute, now)
		tr.Audit.BestPrice = 100.2

		dec := e.Evaluate(ExitInput{
			Trade:   tr,
			Quote:   quoteAt(100.5, 10*time.Second, now),
			Candles: trendingCandles(),
			Now:     now,
		})
		assert.Equal(t, 100.5, dec.BestPrice)

		dec = e.Evaluate(ExitInput{
			Trade:   tr,
			Quote:   quoteAt(100.0, 10*time.Second, now),
			Candles: trendingCandles(),
			Now:     now,
		})
		assert.Equal(t, 100.2, dec.BestPrice)
	})

	t.Run("sell proposal moves down only", func(t *testing.T) {
		tr := openTrade(models.SideSell, 10*time.Minute, now)
		tr.Audit.BestPrice = 99.8

		dec := e.Evaluate(ExitInput{
			Trade:   tr,
			Quote:   quoteAt(99.6, 10*time.Second, now),
			Candles: trendingCandles(),
			Now:     now,
		})
		assert.Equal(t, 99.6, dec.BestPrice)

		dec = e.Evaluate(ExitInput{
			Trade:   tr,
			Quote:   quoteAt(100.0, 10*time.Second, now),
			Candles: trendingCandles(),
			Now:     now,
		})
		assert.Equal(t, 99.8, dec.BestPrice)
	})
}
