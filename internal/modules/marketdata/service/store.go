package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/marketdata/service/pg"
	"paper_bot/pkg/db"
)

// PgStore binds the marketdata repos to the master pool.
type PgStore struct {
	txm     *db.PgTxManager
	quotes  *pg.Quotes
	ticks   *pg.PriceTicks
	candles *pg.Candles
}

func NewPgStore(txm *db.PgTxManager) *PgStore {
	return &PgStore{
		txm:     txm,
		quotes:  pg.NewQuotes(),
		ticks:   pg.NewPriceTicks(),
		candles: pg.NewCandles(),
	}
}

// SaveQuote overwrites the latest-price row and appends to the tick log in
// one transaction so the window aggregator never sees a half-written pull.
func (s *PgStore) SaveQuote(ctx context.Context, q models.Quote) error {
	return s.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		if err := s.quotes.Upsert(ctxTx, tx, q); err != nil {
			return err
		}
		return s.ticks.Insert(ctxTx, tx, models.PriceTick{
			InstrumentID: q.InstrumentID,
			Price:        q.Price,
			PulledAt:     q.PulledAt,
		})
	})
}

func (s *PgStore) SaveCandles(ctx context.Context, candles []models.Candle) error {
	return s.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		for _, c := range candles {
			if err := s.candles.Upsert(ctxTx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PgStore) TrimTicksBefore(ctx context.Context, cutoff time.Time) error {
	return s.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return s.ticks.DeleteOlderThan(ctxTx, tx, cutoff)
	})
}

// TicksBetween implements the window aggregator's TickSource on the pool
// connection; range reads need no explicit transaction.
func (s *PgStore) TicksBetween(ctx context.Context, instrumentID int64, from, to time.Time, limit int) ([]models.PriceTick, error) {
	return s.ticks.TicksBetween(ctx, s.txm.Conn(), instrumentID, from, to, limit)
}

// Quotes / candles / instruments read helpers used by the engine cycles.

func (s *PgStore) LatestQuote(ctx context.Context, instrumentID int64) (models.Quote, bool, error) {
	return s.quotes.Get(ctx, s.txm.Conn(), instrumentID)
}

func (s *PgStore) AllQuotes(ctx context.Context) (map[int64]models.Quote, error) {
	return s.quotes.All(ctx, s.txm.Conn())
}

func (s *PgStore) LastCandles(ctx context.Context, instrumentID int64, tf models.Timeframe, n int) ([]models.Candle, error) {
	return s.candles.LastN(ctx, s.txm.Conn(), instrumentID, tf, n)
}

func (s *PgStore) SeedInstruments(ctx context.Context, seeds []models.Instrument) error {
	r := pg.NewInstruments()
	return s.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return r.Seed(ctxTx, tx, seeds)
	})
}

func (s *PgStore) ActiveInstruments(ctx context.Context) ([]models.Instrument, error) {
	r := pg.NewInstruments()
	return r.ListActive(ctx, s.txm.Conn())
}
