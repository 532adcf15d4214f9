package pg

import (
	"context"
	"fmt"

	"paper_bot/internal/models"
	"paper_bot/pkg/db"
)

// Candles stores OHLCV bars keyed by (instrument, timeframe, open_time).
type Candles struct{}

func NewCandles() *Candles { return &Candles{} }

func (r *Candles) Upsert(ctx context.Context, tx db.Transaction, c models.Candle) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Candles.Upsert: %w", err)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO candles (instrument_id, timeframe, open_time, open, high, low, close, volume, close_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instrument_id, timeframe, open_time) DO UPDATE
		SET open = EXCLUDED.open,
		    high = EXCLUDED.high,
		    low = EXCLUDED.low,
		    close = EXCLUDED.close,
		    volume = EXCLUDED.volume,
		    close_time = EXCLUDED.close_time`,
		c.InstrumentID, string(c.Timeframe), c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.CloseTime,
	)
	return err
}

// LastN returns the most recent n bars, ascending by open_time.
func (r *Candles) LastN(ctx context.Context, tx db.Transaction, instrumentID int64, tf models.Timeframe, n int) (out []models.Candle, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Candles.LastN: %w", err)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT instrument_id, timeframe, open_time, open, high, low, close, volume, close_time
		FROM candles
		WHERE instrument_id = $1 AND timeframe = $2
		ORDER BY open_time DESC
		LIMIT $3`,
		instrumentID, string(tf), n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Candle
		var tfRaw string
		if err = rows.Scan(&c.InstrumentID, &tfRaw, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.CloseTime); err != nil {
			return nil, err
		}
		c.Timeframe = models.Timeframe(tfRaw)
		out = append(out, c)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	// flip to chronological order for signal computation
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
