package models

import "time"

// TradeMonitor is a derived projection for the dashboard, one row per
// (instrument, timeframe), fully rebuilt every cycle.
type TradeMonitor struct {
	InstrumentID int64
	Timeframe    Timeframe
	Expectation  string
	OpenTradeID  *int64
	UpdatedAt    time.Time
}
