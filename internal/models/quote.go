package models

import "time"

// Quote is the latest known price per instrument, overwritten on every sync.
type Quote struct {
	InstrumentID int64
	Price        float64
	PulledAt     time.Time
	Source       string
}

func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.PulledAt)
}

// PriceTick is the append-only price log feeding the window aggregator.
type PriceTick struct {
	InstrumentID int64
	Price        float64
	PulledAt     time.Time
}
