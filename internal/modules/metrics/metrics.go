package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's counter set, served at /metrics on the admin port.
type Metrics struct {
	TradesOpened  *prometheus.CounterVec // side
	TradesClosed  *prometheus.CounterVec // reason, side
	TickSkips     *prometheus.CounterVec // reason
	CloseHolds    *prometheus.CounterVec // reason
	CycleErrors   *prometheus.CounterVec // phase
	OpenTrades    prometheus.Gauge
	PoolCooldowns prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		TradesOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_trades_opened_total",
				Help: "Trades opened by the tick cycle",
			},
			[]string{"side"},
		),
		TradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_trades_closed_total",
				Help: "Trades closed, split by exit reason and side",
			},
			[]string{"reason", "side"},
		),
		TickSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_tick_skips_total",
				Help: "Entry opportunities skipped, by reason",
			},
			[]string{"reason"},
		),
		CloseHolds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_close_holds_total",
				Help: "Open trades held by the exit cycle, by reason",
			},
			[]string{"reason"},
		),
		CycleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_cycle_errors_total",
				Help: "Contained per-instrument failures, by cycle phase",
			},
			[]string{"phase"},
		),
		OpenTrades: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bot_open_trades",
				Help: "Currently open trades",
			},
		),
		PoolCooldowns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bot_pool_cooldowns",
				Help: "Provider keys currently cooling down",
			},
		),
	}

	prometheus.MustRegister(
		m.TradesOpened, m.TradesClosed, m.TickSkips,
		m.CloseHolds, m.CycleErrors, m.OpenTrades, m.PoolCooldowns,
	)
	return m
}

// Nil-safe helpers so components can run without metrics in tests.

func (m *Metrics) Opened(side string) {
	if m == nil {
		return
	}
	m.TradesOpened.WithLabelValues(side).Inc()
}

func (m *Metrics) Closed(reason, side string) {
	if m == nil {
		return
	}
	m.TradesClosed.WithLabelValues(reason, side).Inc()
}

func (m *Metrics) TickSkip(reason string) {
	if m == nil {
		return
	}
	m.TickSkips.WithLabelValues(reason).Inc()
}

func (m *Metrics) CloseHold(reason string) {
	if m == nil {
		return
	}
	m.CloseHolds.WithLabelValues(reason).Inc()
}

func (m *Metrics) CycleError(phase string) {
	if m == nil {
		return
	}
	m.CycleErrors.WithLabelValues(phase).Inc()
}
