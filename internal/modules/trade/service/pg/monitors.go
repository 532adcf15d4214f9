package pg

import (
	"context"
	"fmt"

	"paper_bot/internal/models"
	"paper_bot/pkg/db"
)

// Monitors is the dashboard projection, one row per (instrument, timeframe).
type Monitors struct{}

func NewMonitors() *Monitors { return &Monitors{} }

func (r *Monitors) Upsert(ctx context.Context, tx db.Transaction, m models.TradeMonitor) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Monitors.Upsert: %w", err)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO trade_monitors (instrument_id, timeframe, expectation, open_trade_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instrument_id, timeframe) DO UPDATE
		SET expectation = EXCLUDED.expectation,
		    open_trade_id = EXCLUDED.open_trade_id,
		    updated_at = EXCLUDED.updated_at`,
		m.InstrumentID, string(m.Timeframe), m.Expectation, m.OpenTradeID, m.UpdatedAt,
	)
	return err
}

// DeleteStale removes rows for instruments or timeframes no longer configured.
func (r *Monitors) DeleteStale(ctx context.Context, tx db.Transaction, keepTimeframes []string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Monitors.DeleteStale: %w", err)
		}
	}()

	_, err = tx.Exec(ctx, `
		DELETE FROM trade_monitors
		WHERE NOT (timeframe = ANY($1))
		   OR instrument_id NOT IN (SELECT id FROM instruments WHERE active)`,
		keepTimeframes,
	)
	return err
}
