package service

import (
	"context"

	"paper_bot/internal/models"
)

// MarketDataProvider is the logical candle/price contract for one vendor.
// "No data" is (0, false, nil), never an error.
type MarketDataProvider interface {
	LastPrice(ctx context.Context, code string) (price float64, ok bool, err error)
	// Candles returns up to limit bars oldest-first; InstrumentID is left unset.
	Candles(ctx context.Context, code string, tf models.Timeframe, limit int) ([]models.Candle, error)
}

// FxQuotePool prices a batch of codes with one provider key. Missing codes are
// simply absent from the result map. Rate-limit failures must be returned as
// *keypool.RateLimitError so the pool can rotate.
type FxQuotePool interface {
	BatchQuotes(ctx context.Context, key string, codes []string) (map[string]float64, error)
}
