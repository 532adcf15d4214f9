package service

import (
	"context"
	"fmt"
	"time"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
)

// TickSource delivers the most recent ticks inside (from, to], newest first,
// capped to limit rows.
type TickSource interface {
	TicksBetween(ctx context.Context, instrumentID int64, from, to time.Time, limit int) ([]models.PriceTick, error)
}

type WindowStats struct {
	Avg      float64
	Min      float64
	Max      float64
	Range    float64
	Count    int
	Complete bool // tick count reached the cap
	HasData  bool
}

type Result struct {
	Direction models.Direction
	DirPct    float64 // |curAvg-prevAvg|/curAvg, the reversal strength gate
	Current   WindowStats
	Previous  WindowStats
}

// ComputeStats folds one window's ticks. Pure.
func ComputeStats(ticks []models.PriceTick, tickCap int) WindowStats {
	if len(ticks) == 0 {
		return WindowStats{}
	}

	st := WindowStats{
		HasData: true,
		Count:   len(ticks),
		Min:     ticks[0].Price,
		Max:     ticks[0].Price,
	}
	var sum float64
	for _, t := range ticks {
		sum += t.Price
		if t.Price < st.Min {
			st.Min = t.Price
		}
		if t.Price > st.Max {
			st.Max = t.Price
		}
	}
	st.Avg = sum / float64(len(ticks))
	st.Range = st.Max - st.Min
	st.Complete = tickCap > 0 && len(ticks) >= tickCap
	return st
}

// DirectionOf compares the two window averages. Pure.
func DirectionOf(cur, prev WindowStats, flatThreshold float64) (models.Direction, float64) {
	if !cur.HasData || !prev.HasData || cur.Avg == 0 {
		return models.DirNoData, 0
	}

	delta := cur.Avg - prev.Avg
	pct := delta / cur.Avg
	if pct < 0 {
		pct = -pct
	}
	if pct < flatThreshold {
		return models.DirFlat, pct
	}
	if delta > 0 {
		return models.DirUp, pct
	}
	return models.DirDown, pct
}

// Aggregator evaluates rolling current/previous tick windows per instrument.
type Aggregator struct {
	src           TickSource
	flatThreshold float64
	now           func() time.Time
}

func NewAggregator(cfg *config.Config, src TickSource) *Aggregator {
	return &Aggregator{
		src:           src,
		flatThreshold: cfg.Strategy.PriceWindows.FlatThreshold,
		now:           time.Now,
	}
}

// Evaluate computes direction and strength for one window spec:
// current = (now-minutes, now], previous = (now-2*minutes, now-minutes].
func (a *Aggregator) Evaluate(ctx context.Context, instrumentID int64, minutes, tickCap int) (Result, error) {
	now := a.now()
	mid := now.Add(-time.Duration(minutes) * time.Minute)
	start := now.Add(-2 * time.Duration(minutes) * time.Minute)

	curTicks, err := a.src.TicksBetween(ctx, instrumentID, mid, now, tickCap)
	if err != nil {
		return Result{}, fmt.Errorf("Aggregator.Evaluate current: %w", err)
	}
	prevTicks, err := a.src.TicksBetween(ctx, instrumentID, start, mid, tickCap)
	if err != nil {
		return Result{}, fmt.Errorf("Aggregator.Evaluate previous: %w", err)
	}

	res := Result{
		Current:  ComputeStats(curTicks, tickCap),
		Previous: ComputeStats(prevTicks, tickCap),
	}
	res.Direction, res.DirPct = DirectionOf(res.Current, res.Previous, a.flatThreshold)
	return res, nil
}
