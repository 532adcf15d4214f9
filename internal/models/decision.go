package models

type Direction string

const (
	DirUp     Direction = "up"
	DirDown   Direction = "down"
	DirFlat   Direction = "flat"
	DirNoData Direction = "no_data"
)

type EntryAction string

const (
	EntryOpen EntryAction = "open"
	EntryHold EntryAction = "hold"
)

// Hold / skip reasons shared by the tick and close cycles.
const (
	ReasonHaFlat           = "ha_flat"
	ReasonNotEnoughCandles = "not_enough_candles"
	ReasonMissingQuote     = "missing_quote"
	ReasonStaleQuote       = "stale_quote"
	ReasonAlreadyOpen      = "already_open"
	ReasonOutOfSession     = "out_of_session"
	ReasonTimeStop         = "time_stop"
	ReasonHardStop         = "hard_stop"
	ReasonHaReversal       = "ha_reversal"
	ReasonReversal         = "reversal"
	ReasonTrailingStop     = "trailing_stop"
	ReasonNoExitSignal     = "no_exit_signal"
)

// EntryDecision is what the signal engine proposes for one (instrument, timeframe).
type EntryDecision struct {
	Action     EntryAction
	Side       Side
	Reason     string
	Directions []Direction // HA direction per bar, oldest first
}

type ExitAction string

const (
	ExitClose ExitAction = "close"
	ExitHold  ExitAction = "hold"
)

// ExitDecision is pure: BestPrice is a proposed update, persisting it is the
// lifecycle manager's job.
type ExitDecision struct {
	Action    ExitAction
	Reason    string
	ExitPrice float64
	BestPrice float64
}
