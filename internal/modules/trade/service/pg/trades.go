package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"paper_bot/internal/models"
	"paper_bot/pkg/db"
)

// ErrOpenTradeExists maps the partial unique index uniq_open_trade: at most
// one open trade per (instrument, timeframe), enforced by storage.
var ErrOpenTradeExists = errors.New("trades: open trade already exists")

// Trades implement db store
type Trades struct{}

func NewTrades() *Trades { return &Trades{} }

func (r *Trades) Insert(ctx context.Context, tx db.Transaction, t *models.Trade) (err error) {
	defer func() {
		if err != nil && !errors.Is(err, ErrOpenTradeExists) {
			err = fmt.Errorf("Trades.Insert: %w", err)
		}
	}()

	audit, err := sonic.Marshal(t.Audit)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO trades (
			instrument_id, timeframe, side, status, opened_at,
			entry_price, realized_points, unrealized_points,
			stop_loss_points, take_profit_points, max_hold_minutes, audit
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		t.InstrumentID, string(t.Timeframe), string(t.Side), string(t.Status), t.OpenedAt,
		t.EntryPrice, t.RealizedPoints, t.UnrealizedPoints,
		t.StopLossPoints, t.TakeProfitPoints, t.MaxHoldMinutes, audit,
	).Scan(&t.ID)
	if isUniqueViolation(err) {
		return ErrOpenTradeExists
	}
	return err
}

func (r *Trades) GetOpenByKey(ctx context.Context, tx db.Transaction, instrumentID int64, tf models.Timeframe) (t *models.Trade, ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Trades.GetOpenByKey: %w", err)
		}
	}()

	row := tx.QueryRow(ctx, selectTrade+`
		WHERE instrument_id = $1 AND timeframe = $2 AND status = 'open'`,
		instrumentID, string(tf),
	)
	return scanOne(row)
}

func (r *Trades) ListOpen(ctx context.Context, tx db.Transaction, limit int) (out []*models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Trades.ListOpen: %w", err)
		}
	}()

	rows, err := tx.Query(ctx, selectTrade+`
		WHERE status = 'open'
		ORDER BY opened_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		t, scanErr := scanTrade(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LockOpen takes the row lock that serializes every mutation of one trade id.
// Returns ok=false when the trade is not open anymore.
func (r *Trades) LockOpen(ctx context.Context, tx db.Transaction, id int64) (t *models.Trade, ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Trades.LockOpen: %w", err)
		}
	}()

	row := tx.QueryRow(ctx, selectTrade+`
		WHERE id = $1 AND status = 'open'
		FOR UPDATE`,
		id,
	)
	return scanOne(row)
}

// MarkClosed writes the terminal state; the caller must hold the row lock.
func (r *Trades) MarkClosed(ctx context.Context, tx db.Transaction, t *models.Trade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Trades.MarkClosed: %w", err)
		}
	}()

	audit, err := sonic.Marshal(t.Audit)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE trades
		SET status = 'closed',
		    closed_at = $2,
		    exit_price = $3,
		    realized_points = $4,
		    unrealized_points = $5,
		    audit = $6
		WHERE id = $1 AND status = 'open'`,
		t.ID, t.ClosedAt, t.ExitPrice, t.RealizedPoints, t.UnrealizedPoints, audit,
	)
	return err
}

func (r *Trades) UpdateProgress(ctx context.Context, tx db.Transaction, id int64, unrealized float64, audit models.TradeAudit) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Trades.UpdateProgress: %w", err)
		}
	}()

	data, err := sonic.Marshal(audit)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE trades
		SET unrealized_points = $2, audit = $3
		WHERE id = $1 AND status = 'open'`,
		id, unrealized, data,
	)
	return err
}

const selectTrade = `
	SELECT id, instrument_id, timeframe, side, status, opened_at, closed_at,
	       entry_price, exit_price, realized_points, unrealized_points,
	       stop_loss_points, take_profit_points, max_hold_minutes, audit
	FROM trades`

func scanOne(row pgx.Row) (*models.Trade, bool, error) {
	t, err := scanTrade(row)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var (
		t        models.Trade
		tf, side string
		status   string
		closedAt *time.Time
		audit    []byte
	)
	err := row.Scan(
		&t.ID, &t.InstrumentID, &tf, &side, &status, &t.OpenedAt, &closedAt,
		&t.EntryPrice, &t.ExitPrice, &t.RealizedPoints, &t.UnrealizedPoints,
		&t.StopLossPoints, &t.TakeProfitPoints, &t.MaxHoldMinutes, &audit,
	)
	if err != nil {
		return nil, err
	}
	t.Timeframe = models.Timeframe(tf)
	t.Side = models.Side(side)
	t.Status = models.TradeStatus(status)
	t.ClosedAt = closedAt
	if len(audit) > 0 {
		if err := sonic.Unmarshal(audit, &t.Audit); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
