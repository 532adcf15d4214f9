package service

import (
	"time"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
)

// Session is a time-of-day window in the reference timezone. Cross-midnight
// windows (End <= Start) roll the end into the next day.
type Session struct {
	Name     string
	Start    time.Duration // offset from midnight
	End      time.Duration
	Warmup   time.Duration
	Cooldown time.Duration
}

var sessionTable = []Session{
	{Name: "sydney", Start: 22 * time.Hour, End: 7 * time.Hour},
	{Name: "tokyo", Start: 0, End: 9 * time.Hour},
	{Name: "london", Start: 8 * time.Hour, End: 17 * time.Hour},
	{Name: "new_york", Start: 13 * time.Hour, End: 22 * time.Hour},
}

var currencySessions = map[string][]string{
	"AUD": {"sydney"},
	"NZD": {"sydney"},
	"JPY": {"tokyo"},
	"SGD": {"tokyo"},
	"CNH": {"tokyo"},
	"EUR": {"london"},
	"GBP": {"london"},
	"CHF": {"london"},
	"USD": {"new_york"},
	"CAD": {"new_york"},
	"MXN": {"new_york"},
}

// Scheduler decides how often each instrument should be polled.
type Scheduler struct {
	loc      *time.Location
	sessions []Session
	fast     time.Duration
	slow     time.Duration
}

func NewScheduler(cfg *config.Config) *Scheduler {
	warmup := time.Duration(cfg.Scheduler.WarmupMinutes) * time.Minute
	cooldown := time.Duration(cfg.Scheduler.CooldownMinutes) * time.Minute

	sessions := make([]Session, len(sessionTable))
	copy(sessions, sessionTable)
	for i := range sessions {
		sessions[i].Warmup = warmup
		sessions[i].Cooldown = cooldown
	}

	return &Scheduler{
		loc:      time.UTC,
		sessions: sessions,
		fast:     time.Duration(cfg.Scheduler.FastIntervalSec) * time.Second,
		slow:     time.Duration(cfg.Scheduler.SlowIntervalSec) * time.Second,
	}
}

// IsInTradingWindow reports whether any session mapped from the instrument's
// currencies covers now, warmup/cooldown included. Weekends are always false.
func (s *Scheduler) IsInTradingWindow(inst models.Instrument, now time.Time) bool {
	local := now.In(s.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	for _, name := range s.sessionsFor(inst) {
		sess, ok := s.session(name)
		if !ok {
			continue
		}
		if s.inSession(sess, local) {
			return true
		}
	}
	return false
}

// PollInterval is fast while a trade is open or the market is active, slow otherwise.
func (s *Scheduler) PollInterval(inst models.Instrument, hasOpenTrade bool, now time.Time) time.Duration {
	if hasOpenTrade || s.IsInTradingWindow(inst, now) {
		return s.fast
	}
	return s.slow
}

// IsQuoteDue is true when there is no prior pull or it is older than the
// instrument's current effective interval.
func (s *Scheduler) IsQuoteDue(inst models.Instrument, lastPulledAt *time.Time, hasOpenTrade bool, now time.Time) bool {
	if lastPulledAt == nil {
		return true
	}
	return now.Sub(*lastPulledAt) > s.PollInterval(inst, hasOpenTrade, now)
}

func (s *Scheduler) sessionsFor(inst models.Instrument) []string {
	seen := make(map[string]struct{}, 2)
	var names []string
	for _, ccy := range []string{inst.BaseCurrency(), inst.QuoteCurrency()} {
		for _, name := range currencySessions[ccy] {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

func (s *Scheduler) session(name string) (Session, bool) {
	for _, sess := range s.sessions {
		if sess.Name == name {
			return sess, true
		}
	}
	return Session{}, false
}

// inSession tests the window anchored at today's midnight and, for times just
// after midnight, the window anchored at the prior day.
func (s *Scheduler) inSession(sess Session, local time.Time) bool {
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())

	for _, anchor := range []time.Time{midnight, midnight.AddDate(0, 0, -1)} {
		start := anchor.Add(sess.Start - sess.Warmup)
		end := anchor.Add(sess.End + sess.Cooldown)
		if sess.End <= sess.Start {
			end = end.Add(24 * time.Hour)
		}
		if !local.Before(start) && !local.After(end) {
			return true
		}
	}
	return false
}
