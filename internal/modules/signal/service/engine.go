package service

import (
	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
)

const (
	reasonFlatMarket    = "flat_market"
	reasonWeakConsensus = "weak_consensus"
)

// Engine turns candle history into entry decisions. Stateless between calls.
type Engine struct {
	flatLookback     int
	flatRangePct     float64
	useCurrentCandle bool

	weights        map[string]float64
	totalThreshold int
}

func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		flatLookback:     cfg.Strategy.Flat.LookbackCandles,
		flatRangePct:     cfg.Strategy.Flat.RangePctThreshold,
		useCurrentCandle: cfg.Strategy.Entry.UseCurrentCandle,
		weights:          cfg.Strategy.Weights,
		totalThreshold:   cfg.Strategy.TotalThreshold,
	}
}

// Decide proposes an entry from one (instrument, timeframe) candle series,
// chronologically ascending. The call is pure.
func (e *Engine) Decide(candles []models.Candle) models.EntryDecision {
	if !e.useCurrentCandle && len(candles) > 0 {
		// drop the still-forming bar
		candles = candles[:len(candles)-1]
	}
	if len(candles) < MinCandles {
		return models.EntryDecision{Action: models.EntryHold, Reason: models.ReasonNotEnoughCandles}
	}

	if e.isFlatMarket(candles) {
		return models.EntryDecision{Action: models.EntryHold, Reason: reasonFlatMarket}
	}

	bars := ComputeHeikinAshi(candles)
	dirs := Directions(bars)

	last := dirs[len(dirs)-1]
	switch last {
	case models.DirUp:
		return models.EntryDecision{Action: models.EntryOpen, Side: models.SideBuy, Directions: dirs}
	case models.DirDown:
		return models.EntryDecision{Action: models.EntryOpen, Side: models.SideSell, Directions: dirs}
	}
	return models.EntryDecision{Action: models.EntryHold, Reason: models.ReasonHaFlat, Directions: dirs}
}

// Confirm gates a proposed side with a weighted vote across other timeframes.
// Timeframes with no weight configured count as 1. The proposal passes when
// the agreeing weight reaches the configured total threshold.
func (e *Engine) Confirm(side models.Side, byTimeframe map[models.Timeframe][]models.Candle) (bool, string) {
	if e.totalThreshold <= 0 || len(byTimeframe) == 0 {
		return true, ""
	}

	want := side.Favors()

	var score float64
	for tf, candles := range byTimeframe {
		if !e.useCurrentCandle && len(candles) > 0 {
			candles = candles[:len(candles)-1]
		}
		if len(candles) < MinCandles {
			continue
		}
		bars := ComputeHeikinAshi(candles)
		if bars[len(bars)-1].Direction != want {
			continue
		}
		w, ok := e.weights[string(tf)]
		if !ok {
			w = 1
		}
		score += w
	}
	if score < float64(e.totalThreshold) {
		return false, reasonWeakConsensus
	}
	return true, ""
}

// isFlatMarket holds entries when the recent range is negligible relative to
// the last close. Disabled when either setting is zero.
func (e *Engine) isFlatMarket(candles []models.Candle) bool {
	if e.flatLookback <= 0 || e.flatRangePct <= 0 {
		return false
	}
	n := e.flatLookback
	if n > len(candles) {
		n = len(candles)
	}
	window := candles[len(candles)-n:]

	hi, lo := window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	ref := window[len(window)-1].Close
	if ref == 0 {
		return false
	}
	return (hi-lo)/ref < e.flatRangePct
}
