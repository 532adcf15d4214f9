package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"paper_bot/internal/models"
	"paper_bot/pkg/db"
)

// Quotes keeps one latest-price row per instrument.
type Quotes struct{}

func NewQuotes() *Quotes { return &Quotes{} }

func (r *Quotes) Upsert(ctx context.Context, tx db.Transaction, q models.Quote) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Quotes.Upsert: %w", err)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO quotes (instrument_id, price, pulled_at, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instrument_id) DO UPDATE
		SET price = EXCLUDED.price,
		    pulled_at = EXCLUDED.pulled_at,
		    source = EXCLUDED.source`,
		q.InstrumentID, q.Price, q.PulledAt, q.Source,
	)
	return err
}

func (r *Quotes) Get(ctx context.Context, tx db.Transaction, instrumentID int64) (q models.Quote, ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Quotes.Get: %w", err)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT instrument_id, price, pulled_at, source
		FROM quotes
		WHERE instrument_id = $1`,
		instrumentID,
	).Scan(&q.InstrumentID, &q.Price, &q.PulledAt, &q.Source)
	if err == pgx.ErrNoRows {
		return models.Quote{}, false, nil
	}
	if err != nil {
		return models.Quote{}, false, err
	}
	return q, true, nil
}

func (r *Quotes) All(ctx context.Context, tx db.Transaction) (out map[int64]models.Quote, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Quotes.All: %w", err)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT instrument_id, price, pulled_at, source
		FROM quotes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make(map[int64]models.Quote)
	for rows.Next() {
		var q models.Quote
		if err = rows.Scan(&q.InstrumentID, &q.Price, &q.PulledAt, &q.Source); err != nil {
			return nil, err
		}
		out[q.InstrumentID] = q
	}
	return out, rows.Err()
}
