package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
)

var ErrAlreadyOpen = errors.New("trade: open trade exists for this instrument and timeframe")

// TradeStore is the persistence seam for trade mutations. CloseLocked and
// UpdateLocked run their mutation while holding the exclusive row lock on an
// open trade, and report ok=false (without mutating) when the trade is no
// longer open. CreateOpen must fail with ErrAlreadyOpen when storage already
// holds an open trade for the same (instrument, timeframe).
type TradeStore interface {
	CreateOpen(ctx context.Context, t *models.Trade) error
	GetOpenByKey(ctx context.Context, instrumentID int64, tf models.Timeframe) (*models.Trade, bool, error)
	ListOpen(ctx context.Context, limit int) ([]*models.Trade, error)
	CloseLocked(ctx context.Context, id int64, mutate func(*models.Trade)) (bool, error)
	UpdateLocked(ctx context.Context, id int64, mutate func(*models.Trade)) (bool, error)
}

// Manager owns every trade mutation. Decisions stay pure; state changes go
// through here.
type Manager struct {
	store TradeStore
	now   func() time.Time
}

func NewManager(store TradeStore) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Open inserts a new open trade at the current quote. Uniqueness of the open
// (instrument, timeframe) slot is the store's job, not a pre-check here.
func (m *Manager) Open(
	ctx context.Context,
	inst models.Instrument,
	tf models.Timeframe,
	dec models.EntryDecision,
	price float64,
	risk config.RiskSettings,
) (*models.Trade, error) {
	dirs := make([]string, len(dec.Directions))
	for i, d := range dec.Directions {
		dirs[i] = string(d)
	}

	now := m.now()
	t := &models.Trade{
		InstrumentID:     inst.ID,
		Timeframe:        tf,
		Side:             dec.Side,
		Status:           models.TradeOpen,
		OpenedAt:         now,
		EntryPrice:       price,
		StopLossPoints:   risk.StopLossPoints,
		TakeProfitPoints: risk.TakeProfitPoints,
		MaxHoldMinutes:   risk.MaxHoldMinutes,
		Audit: models.TradeAudit{
			DecisionID:   uuid.NewString(),
			EntryReason:  "ha_" + string(lastDirection(dec)),
			HaDirections: dirs,
			BestPrice:    price,
		},
	}
	if err := m.store.CreateOpen(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Close finishes a trade at most once. The store re-validates the row is
// still open under the exclusive lock; a lost race is a silent no-op.
func (m *Manager) Close(ctx context.Context, id int64, exitPrice float64, reason string, pointSize float64) (bool, error) {
	return m.store.CloseLocked(ctx, id, func(t *models.Trade) {
		now := m.now()
		pts := models.RoundPoints(t.Points(exitPrice, pointSize))

		t.Status = models.TradeClosed
		t.ClosedAt = &now
		t.ExitPrice = &exitPrice
		t.RealizedPoints = pts
		t.UnrealizedPoints = pts
		t.Audit.ExitReason = reason
	})
}

// UpdateUnrealized recomputes unrealized points for a still-open trade.
func (m *Manager) UpdateUnrealized(ctx context.Context, id int64, price, pointSize float64) (bool, error) {
	return m.store.UpdateLocked(ctx, id, func(t *models.Trade) {
		t.UnrealizedPoints = models.RoundPoints(t.Points(price, pointSize))
	})
}

// ApplyBestPrice persists a proposed best favorable price. Monotonic: the
// stored value never regresses, whatever the caller proposes.
func (m *Manager) ApplyBestPrice(ctx context.Context, id int64, proposed float64) (bool, error) {
	return m.store.UpdateLocked(ctx, id, func(t *models.Trade) {
		if improves(t.Side, t.Audit.BestPrice, proposed) {
			t.Audit.BestPrice = proposed
		}
	})
}

func improves(side models.Side, current, proposed float64) bool {
	if current == 0 {
		return proposed != 0
	}
	if side == models.SideSell {
		return proposed < current
	}
	return proposed > current
}

func lastDirection(dec models.EntryDecision) models.Direction {
	if len(dec.Directions) == 0 {
		return models.DirNoData
	}
	return dec.Directions[len(dec.Directions)-1]
}
