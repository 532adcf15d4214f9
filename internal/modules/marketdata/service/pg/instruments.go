package pg

import (
	"context"
	"fmt"

	"paper_bot/internal/models"
	"paper_bot/pkg/db"
)

// Instruments implement db store
type Instruments struct{}

func NewInstruments() *Instruments { return &Instruments{} }

func (r *Instruments) Seed(ctx context.Context, tx db.Transaction, seeds []models.Instrument) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Instruments.Seed: %w", err)
		}
	}()

	for _, s := range seeds {
		_, err = tx.Exec(ctx, `
			INSERT INTO instruments (code, active, point_size, precision)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (code) DO UPDATE
			SET active = EXCLUDED.active,
			    point_size = EXCLUDED.point_size,
			    precision = EXCLUDED.precision`,
			s.Code, s.Active, s.PointSize, s.Precision,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Instruments) ListActive(ctx context.Context, tx db.Transaction) (out []models.Instrument, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Instruments.ListActive: %w", err)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, code, active, point_size, precision
		FROM instruments
		WHERE active
		ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var inst models.Instrument
		if err = rows.Scan(&inst.ID, &inst.Code, &inst.Active, &inst.PointSize, &inst.Precision); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
