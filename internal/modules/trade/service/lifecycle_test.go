package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
)

// memTradeStore emulates the row-level lock with a plain mutex: mutations run
// one at a time, and the mutate callback only fires while the row is open.
type memTradeStore struct {
	mu     sync.Mutex
	nextID int64
	trades map[int64]*models.Trade
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{trades: make(map[int64]*models.Trade)}
}

func (s *memTradeStore) CreateOpen(_ context.Context, t *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.trades {
		if existing.IsOpen() && existing.InstrumentID == t.InstrumentID && existing.Timeframe == t.Timeframe {
			return ErrAlreadyOpen
		}
	}
	s.nextID++
	t.ID = s.nextID
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *memTradeStore) GetOpenByKey(_ context.Context, instrumentID int64, tf models.Timeframe) (*models.Trade, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.IsOpen() && t.InstrumentID == instrumentID && t.Timeframe == tf {
			cp := *t
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *memTradeStore) ListOpen(_ context.Context, limit int) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = defaultCloseBatch
	}
	out := make([]*models.Trade, 0)
	for _, t := range s.trades {
		if t.IsOpen() && len(out) < limit {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memTradeStore) CloseLocked(_ context.Context, id int64, mutate func(*models.Trade)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok || !t.IsOpen() {
		return false, nil
	}
	mutate(t)
	return true, nil
}

func (s *memTradeStore) UpdateLocked(_ context.Context, id int64, mutate func(*models.Trade)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok || !t.IsOpen() {
		return false, nil
	}
	mutate(t)
	return true, nil
}

func (s *memTradeStore) get(id int64) *models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.trades[id]
	return &cp
}

var eurusd = models.Instrument{ID: 1, Code: "EURUSD", Active: true, PointSize: 0.0001, Precision: 5}

func buyDecision() models.EntryDecision {
	return models.EntryDecision{
		Action:     models.EntryOpen,
		Side:       models.SideBuy,
		Directions: []models.Direction{models.DirDown, models.DirUp, models.DirUp},
	}
}

func testRisk() config.RiskSettings {
	return config.RiskSettings{StopLossPoints: 300, TakeProfitPoints: 600, MaxHoldMinutes: 240}
}

func TestManagerOpen(t *testing.T) {
	t.Parallel()

	store := newMemTradeStore()
	m := NewManager(store)

	tr, err := m.Open(context.Background(), eurusd, models.TF5m, buyDecision(), 1.0850, testRisk())
	require.NoError(t, err)

	assert.Equal(t, models.TradeOpen, tr.Status)
	assert.Equal(t, models.SideBuy, tr.Side)
	assert.Equal(t, 1.0850, tr.EntryPrice)
	assert.Equal(t, 240, tr.MaxHoldMinutes)
	assert.NotEmpty(t, tr.Audit.DecisionID)
	assert.Equal(t, "ha_up", tr.Audit.EntryReason)
	assert.Equal(t, []string{"down", "up", "up"}, tr.Audit.HaDirections)
	assert.Equal(t, 1.0850, tr.Audit.BestPrice)
}

func TestManagerOpenSlotTaken(t *testing.T) {
	t.Parallel()

	store := newMemTradeStore()
	m := NewManager(store)

	_, err := m.Open(context.Background(), eurusd, models.TF5m, buyDecision(), 1.0850, testRisk())
	require.NoError(t, err)

	_, err = m.Open(context.Background(), eurusd, models.TF5m, buyDecision(), 1.0851, testRisk())
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	// a different timeframe is a different slot
	_, err = m.Open(context.Background(), eurusd, models.TF15m, buyDecision(), 1.0851, testRisk())
	assert.NoError(t, err)
}

func TestManagerCloseOnce(t *testing.T) {
	t.Parallel()

	store := newMemTradeStore()
	m := NewManager(store)

	tr, err := m.Open(context.Background(), eurusd, models.TF5m, buyDecision(), 1.0850, testRisk())
	require.NoError(t, err)

	closed, err := m.Close(context.Background(), tr.ID, 1.0870, models.ReasonHaReversal, eurusd.PointSize)
	require.NoError(t, err)
	require.True(t, closed)

	got := store.get(tr.ID)
	assert.Equal(t, models.TradeClosed, got.Status)
	require.NotNil(t, got.ExitPrice)
	assert.Equal(t, 1.0870, *got.ExitPrice)
	assert.InDelta(t, 20.0, got.RealizedPoints, 1e-9)
	assert.Equal(t, got.RealizedPoints, got.UnrealizedPoints)
	assert.Equal(t, models.ReasonHaReversal, got.Audit.ExitReason)

	// second close is a silent no-op
	closed, err = m.Close(context.Background(), tr.ID, 1.0800, models.ReasonHardStop, eurusd.PointSize)
	require.NoError(t, err)
	assert.False(t, closed)

	got = store.get(tr.ID)
	assert.Equal(t, 1.0870, *got.ExitPrice)
	assert.Equal(t, models.ReasonHaReversal, got.Audit.ExitReason)
}

func TestManagerConcurrentClose(t *testing.T) {
	t.Parallel()

	store := newMemTradeStore()
	m := NewManager(store)

	tr, err := m.Open(context.Background(), eurusd, models.TF5m, buyDecision(), 1.0850, testRisk())
	require.NoError(t, err)

	const racers = 16
	results := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			price := 1.0850 + float64(i)*0.0001
			ok, err := m.Close(context.Background(), tr.ID, price, models.ReasonTimeStop, eurusd.PointSize)
			assert.NoError(t, err)
			results <- ok
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one close may write realized points")
}

func TestManagerUpdateUnrealized(t *testing.T) {
	t.Parallel()

	store := newMemTradeStore()
	m := NewManager(store)

	tr, err := m.Open(context.Background(), eurusd, models.TF5m, buyDecision(), 1.0850, testRisk())
	require.NoError(t, err)

	ok, err := m.UpdateUnrealized(context.Background(), tr.ID, 1.0830, eurusd.PointSize)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, -20.0, store.get(tr.ID).UnrealizedPoints, 1e-9)

	_, err = m.Close(context.Background(), tr.ID, 1.0830, models.ReasonHardStop, eurusd.PointSize)
	require.NoError(t, err)

	// closed trades are off limits
	ok, err = m.UpdateUnrealized(context.Background(), tr.ID, 1.0900, eurusd.PointSize)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerApplyBestPrice(t *testing.T) {
	t.Parallel()

	store := newMemTradeStore()
	m := NewManager(store)

	tr, err := m.Open(context.Background(), eurusd, models.TF5m, buyDecision(), 1.0850, testRisk())
	require.NoError(t, err)

	_, err = m.ApplyBestPrice(context.Background(), tr.ID, 1.0880)
	require.NoError(t, err)
	assert.Equal(t, 1.0880, store.get(tr.ID).Audit.BestPrice)

	// a worse proposal never regresses the stored value
	_, err = m.ApplyBestPrice(context.Background(), tr.ID, 1.0860)
	require.NoError(t, err)
	assert.Equal(t, 1.0880, store.get(tr.ID).Audit.BestPrice)
}

func TestManagerOpenAfterClose(t *testing.T) {
	t.Parallel()

	store := newMemTradeStore()
	m := NewManager(store)
	m.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }

	tr, err := m.Open(context.Background(), eurusd, models.TF5m, buyDecision(), 1.0850, testRisk())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), tr.OpenedAt)

	_, err = m.Close(context.Background(), tr.ID, 1.0870, models.ReasonTimeStop, eurusd.PointSize)
	require.NoError(t, err)

	// the slot frees up once the trade is closed
	_, err = m.Open(context.Background(), eurusd, models.TF5m, buyDecision(), 1.0860, testRisk())
	assert.NoError(t, err)
}
