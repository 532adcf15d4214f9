package models

import "time"

// Candle is one OHLCV bar; (instrument, timeframe, open time) is the identity,
// ingestion upserts idempotently on it.
type Candle struct {
	InstrumentID int64
	Timeframe    Timeframe
	OpenTime     time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       *float64
	CloseTime    time.Time
}
