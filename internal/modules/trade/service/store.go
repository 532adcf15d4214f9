package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/trade/service/pg"
	"paper_bot/pkg/db"
)

// PgTradeStore implements TradeStore on postgres. Row locks (FOR UPDATE under
// a serializable close transaction) give the per-trade-id serialization the
// lifecycle rules require, and keep holding across overlapping processes.
type PgTradeStore struct {
	txm      *db.PgTxManager
	trades   *pg.Trades
	monitors *pg.Monitors
}

func NewPgTradeStore(txm *db.PgTxManager) *PgTradeStore {
	return &PgTradeStore{
		txm:      txm,
		trades:   pg.NewTrades(),
		monitors: pg.NewMonitors(),
	}
}

func (s *PgTradeStore) CreateOpen(ctx context.Context, t *models.Trade) error {
	err := s.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return s.trades.Insert(ctxTx, tx, t)
	})
	if errors.Is(err, pg.ErrOpenTradeExists) {
		return ErrAlreadyOpen
	}
	return err
}

func (s *PgTradeStore) GetOpenByKey(ctx context.Context, instrumentID int64, tf models.Timeframe) (*models.Trade, bool, error) {
	return s.trades.GetOpenByKey(ctx, s.txm.Conn(), instrumentID, tf)
}

func (s *PgTradeStore) ListOpen(ctx context.Context, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = defaultCloseBatch
	}
	return s.trades.ListOpen(ctx, s.txm.Conn(), limit)
}

// CloseLocked re-validates the trade is still open under the exclusive lock,
// then writes the terminal state in the same commit.
func (s *PgTradeStore) CloseLocked(ctx context.Context, id int64, mutate func(*models.Trade)) (closed bool, err error) {
	err = s.txm.RunSerializable(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		t, ok, lockErr := s.trades.LockOpen(ctxTx, tx, id)
		if lockErr != nil {
			return lockErr
		}
		if !ok {
			return nil // already closed or cancelled, no-op
		}
		mutate(t)
		if markErr := s.trades.MarkClosed(ctxTx, tx, t); markErr != nil {
			return markErr
		}
		closed = true
		return nil
	})
	return closed, err
}

func (s *PgTradeStore) UpdateLocked(ctx context.Context, id int64, mutate func(*models.Trade)) (updated bool, err error) {
	err = s.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		t, ok, lockErr := s.trades.LockOpen(ctxTx, tx, id)
		if lockErr != nil {
			return lockErr
		}
		if !ok {
			return nil
		}
		mutate(t)
		if upErr := s.trades.UpdateProgress(ctxTx, tx, t.ID, t.UnrealizedPoints, t.Audit); upErr != nil {
			return upErr
		}
		updated = true
		return nil
	})
	return updated, err
}

func (s *PgTradeStore) UpsertMonitor(ctx context.Context, m models.TradeMonitor) error {
	return s.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return s.monitors.Upsert(ctxTx, tx, m)
	})
}

func (s *PgTradeStore) PruneMonitors(ctx context.Context, keepTimeframes []string) error {
	return s.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return s.monitors.DeleteStale(ctxTx, tx, keepTimeframes)
	})
}
