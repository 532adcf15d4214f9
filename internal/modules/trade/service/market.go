package service

import (
	"context"

	"paper_bot/internal/models"
	pwservice "paper_bot/internal/modules/pricewindow/service"
)

// MarketReader is the read side of the market state the cycles decide on.
// Implemented by the marketdata store.
type MarketReader interface {
	ActiveInstruments(ctx context.Context) ([]models.Instrument, error)
	LatestQuote(ctx context.Context, instrumentID int64) (models.Quote, bool, error)
	LastCandles(ctx context.Context, instrumentID int64, tf models.Timeframe, n int) ([]models.Candle, error)
}

// WindowSource evaluates one rolling price window per call.
type WindowSource interface {
	Evaluate(ctx context.Context, instrumentID int64, minutes, tickCap int) (pwservice.Result, error)
}
