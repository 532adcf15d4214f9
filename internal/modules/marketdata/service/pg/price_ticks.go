package pg

import (
	"context"
	"fmt"
	"time"

	"paper_bot/internal/models"
	"paper_bot/pkg/db"
)

// PriceTicks is the append-only tick log; rows are only inserted and
// range-read, never updated.
type PriceTicks struct{}

func NewPriceTicks() *PriceTicks { return &PriceTicks{} }

func (r *PriceTicks) Insert(ctx context.Context, tx db.Transaction, tick models.PriceTick) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PriceTicks.Insert: %w", err)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO price_ticks (instrument_id, price, pulled_at)
		VALUES ($1, $2, $3)`,
		tick.InstrumentID, tick.Price, tick.PulledAt,
	)
	return err
}

// TicksBetween returns the newest ticks in (from, to], newest first, capped.
func (r *PriceTicks) TicksBetween(ctx context.Context, tx db.Transaction, instrumentID int64, from, to time.Time, limit int) (out []models.PriceTick, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PriceTicks.TicksBetween: %w", err)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT instrument_id, price, pulled_at
		FROM price_ticks
		WHERE instrument_id = $1 AND pulled_at > $2 AND pulled_at <= $3
		ORDER BY pulled_at DESC
		LIMIT $4`,
		instrumentID, from, to, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t models.PriceTick
		if err = rows.Scan(&t.InstrumentID, &t.Price, &t.PulledAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteOlderThan trims the log; the aggregator never looks further back than
// two window lengths.
func (r *PriceTicks) DeleteOlderThan(ctx context.Context, tx db.Transaction, cutoff time.Time) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PriceTicks.DeleteOlderThan: %w", err)
		}
	}()

	_, err = tx.Exec(ctx, `DELETE FROM price_ticks WHERE pulled_at < $1`, cutoff)
	return err
}
