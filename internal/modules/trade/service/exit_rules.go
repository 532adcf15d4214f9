package service

import (
	"time"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	pwservice "paper_bot/internal/modules/pricewindow/service"
	signal "paper_bot/internal/modules/signal/service"
)

// ExitInput is everything one evaluation needs; the evaluator itself never
// touches storage or mutates the trade.
type ExitInput struct {
	Trade      *models.Trade
	Instrument models.Instrument
	Quote      *models.Quote // nil when no quote exists
	Candles    []models.Candle
	Windows    map[models.Timeframe]pwservice.Result
	Now        time.Time
}

// Evaluator walks the exit rules in strict priority order; the first rule
// that fires wins and the rest are not consulted. The coarse (HA reversal)
// and fine (window reversal + trailing) strategies are independently gated by
// mode and keep their own quote-age thresholds.
type Evaluator struct {
	coarseEnabled bool
	fineEnabled   bool

	fineQuoteMaxAge   time.Duration
	coarseQuoteMaxAge time.Duration

	useCurrentCandle bool

	hardStopPct         float64 // percent of entry price
	reversalMinCount    int
	reversalMinStrength float64
	trailingPct         float64 // percent drawdown from best
	minProfitToTrailPct float64 // percent of entry
}

func NewEvaluator(cfg *config.Config) *Evaluator {
	exit := cfg.Strategy.Exit
	return &Evaluator{
		coarseEnabled:       exit.Mode == "coarse" || exit.Mode == "both",
		fineEnabled:         exit.Mode == "fine" || exit.Mode == "both",
		useCurrentCandle:    cfg.Strategy.Entry.UseCurrentCandle,
		fineQuoteMaxAge:     time.Duration(exit.QuoteMaxAgeSec) * time.Second,
		coarseQuoteMaxAge:   time.Duration(exit.CoarseQuoteMaxAgeSec) * time.Second,
		hardStopPct:         exit.HardStopPct,
		reversalMinCount:    exit.ReversalMinCount,
		reversalMinStrength: exit.ReversalMinStrength,
		trailingPct:         cfg.Strategy.Risk.Trailing.Pct,
		minProfitToTrailPct: cfg.Strategy.Risk.Trailing.MinProfitToTrailPct,
	}
}

func (e *Evaluator) Evaluate(in ExitInput) models.ExitDecision {
	t := in.Trade

	// rule 1: quote availability and freshness
	if in.Quote == nil {
		return hold(models.ReasonMissingQuote, t.Audit.BestPrice)
	}
	age := in.Quote.Age(in.Now)
	if age > e.loosestQuoteMaxAge() {
		return hold(models.ReasonStaleQuote, t.Audit.BestPrice)
	}

	price := in.Quote.Price
	best := proposedBest(t, price)

	// rule 2: time stop
	if in.Now.Sub(t.OpenedAt) >= time.Duration(t.MaxHoldMinutes)*time.Minute {
		return closeAt(models.ReasonTimeStop, price, best)
	}

	// rule 3: hard stop against entry
	if e.hardStopHit(t, price) {
		return closeAt(models.ReasonHardStop, price, best)
	}

	// rule 4: coarse HA reversal on the trade's own timeframe
	if e.coarseEnabled && age <= e.coarseQuoteMaxAge {
		candles := in.Candles
		if !e.useCurrentCandle && len(candles) > 0 {
			// the last stored bar is still forming
			candles = candles[:len(candles)-1]
		}
		if len(candles) < signal.MinCandles {
			return hold(models.ReasonNotEnoughCandles, best)
		}
		if haReversedAgainst(t.Side, candles) {
			return closeAt(models.ReasonHaReversal, price, best)
		}
	}

	if e.fineEnabled && age <= e.fineQuoteMaxAge {
		// rule 5: window reversal vote across the configured timeframes
		if e.windowsReversed(t.Side, in.Windows) {
			return closeAt(models.ReasonReversal, price, best)
		}

		// rule 6: trailing stop, armed only past the activation profit
		if e.trailingHit(t, price, best) {
			return closeAt(models.ReasonTrailingStop, price, best)
		}
	}

	return hold(models.ReasonNoExitSignal, best)
}

func (e *Evaluator) loosestQuoteMaxAge() time.Duration {
	maxAge := time.Duration(0)
	if e.fineEnabled && e.fineQuoteMaxAge > maxAge {
		maxAge = e.fineQuoteMaxAge
	}
	if e.coarseEnabled && e.coarseQuoteMaxAge > maxAge {
		maxAge = e.coarseQuoteMaxAge
	}
	if maxAge == 0 {
		maxAge = e.fineQuoteMaxAge
	}
	return maxAge
}

func (e *Evaluator) hardStopHit(t *models.Trade, price float64) bool {
	pct := e.hardStopPct / 100
	if t.Side == models.SideSell {
		return price >= t.EntryPrice*(1+pct)
	}
	return price <= t.EntryPrice*(1-pct)
}

// haReversedAgainst recomputes Heikin-Ashi over the last three closed bars:
// prior and current bars non-flat, and the current one pointing against the
// trade's side after a flip.
func haReversedAgainst(side models.Side, candles []models.Candle) bool {
	last := candles
	if len(last) > signal.MinCandles {
		last = last[len(last)-signal.MinCandles:]
	}
	bars := signal.ComputeHeikinAshi(last)

	prior := bars[len(bars)-2].Direction
	current := bars[len(bars)-1].Direction
	if prior == models.DirFlat || current == models.DirFlat || prior == current {
		return false
	}

	return current == side.Opposite().Favors()
}

func (e *Evaluator) windowsReversed(side models.Side, windows map[models.Timeframe]pwservice.Result) bool {
	if e.reversalMinCount <= 0 || len(windows) == 0 {
		return false
	}

	against := side.Opposite().Favors()

	count := 0
	for _, res := range windows {
		if res.Direction == against && res.DirPct >= e.reversalMinStrength {
			count++
		}
	}
	return count >= e.reversalMinCount
}

func (e *Evaluator) trailingHit(t *models.Trade, price, best float64) bool {
	if e.trailingPct <= 0 || t.EntryPrice == 0 || best == 0 {
		return false
	}

	profitPct := (best - t.EntryPrice) / t.EntryPrice * 100
	if t.Side == models.SideSell {
		profitPct = (t.EntryPrice - best) / t.EntryPrice * 100
	}
	if profitPct < e.minProfitToTrailPct {
		return false
	}

	drawdownPct := (best - price) / best * 100
	if t.Side == models.SideSell {
		drawdownPct = (price - best) / best * 100
	}
	return drawdownPct >= e.trailingPct
}

// proposedBest never regresses; persisting it stays with the manager.
func proposedBest(t *models.Trade, price float64) float64 {
	best := t.Audit.BestPrice
	if best == 0 {
		return price
	}
	if t.Side == models.SideSell {
		if price < best {
			return price
		}
		return best
	}
	if price > best {
		return price
	}
	return best
}

func hold(reason string, best float64) models.ExitDecision {
	return models.ExitDecision{Action: models.ExitHold, Reason: reason, BestPrice: best}
}

func closeAt(reason string, price, best float64) models.ExitDecision {
	return models.ExitDecision{Action: models.ExitClose, Reason: reason, ExitPrice: price, BestPrice: best}
}
