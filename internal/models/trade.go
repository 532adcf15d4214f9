package models

import (
	"math"
	"time"
)

type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return SideNone
}

// Favors is the HA direction that moves the side into profit.
func (s Side) Favors() Direction {
	switch s {
	case SideBuy:
		return DirUp
	case SideSell:
		return DirDown
	}
	return DirFlat
}

type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeOpen      TradeStatus = "open"
	TradeClosed    TradeStatus = "closed"
	TradeCancelled TradeStatus = "cancelled"
)

// TradeAudit is the opaque decision trail stored with the trade as JSON.
// BestPrice only ever moves in the favorable direction (see Manager.ApplyBestPrice).
type TradeAudit struct {
	DecisionID   string   `json:"decision_id,omitempty"`
	EntryReason  string   `json:"entry_reason,omitempty"`
	HaDirections []string `json:"ha_directions,omitempty"`
	BestPrice    float64  `json:"best_price,omitempty"`
	ExitReason   string   `json:"exit_reason,omitempty"`
}

type Trade struct {
	ID               int64
	InstrumentID     int64
	Timeframe        Timeframe
	Side             Side
	Status           TradeStatus
	OpenedAt         time.Time
	ClosedAt         *time.Time
	EntryPrice       float64
	ExitPrice        *float64
	RealizedPoints   float64
	UnrealizedPoints float64
	StopLossPoints   float64
	TakeProfitPoints float64
	MaxHoldMinutes   int
	Audit            TradeAudit
}

func (t *Trade) IsOpen() bool { return t.Status == TradeOpen }

// Points converts a live price into signed points for the trade's side.
func (t *Trade) Points(price, pointSize float64) float64 {
	if pointSize <= 0 {
		return 0
	}
	if t.Side == SideSell {
		return (t.EntryPrice - price) / pointSize
	}
	return (price - t.EntryPrice) / pointSize
}

// RoundPoints rounds to 2 decimals; applied at close time and to every
// unrealized recompute so stored values compare cleanly.
func RoundPoints(points float64) float64 {
	return math.Round(points*100) / 100
}
