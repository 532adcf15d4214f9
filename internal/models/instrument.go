package models

import (
	"fmt"
	"time"
)

// Instrument is immutable reference data, seeded from config.
type Instrument struct {
	ID        int64
	Code      string // "EURUSD", "GBPJPY" — base + quote, 3+3
	Active    bool
	PointSize float64 // price delta worth one point
	Precision int     // display decimals
}

// BaseCurrency returns the first leg of the 3+3 code, "" when the code is malformed.
func (i Instrument) BaseCurrency() string {
	if len(i.Code) < 6 {
		return ""
	}
	return i.Code[:3]
}

func (i Instrument) QuoteCurrency() string {
	if len(i.Code) < 6 {
		return ""
	}
	return i.Code[3:6]
}

type Timeframe string

const (
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var AllTimeframes = []Timeframe{TF5m, TF15m, TF30m, TF1h, TF4h, TF1d}

func ParseTimeframe(raw string) (Timeframe, error) {
	for _, tf := range AllTimeframes {
		if string(tf) == raw {
			return tf, nil
		}
	}
	return "", fmt.Errorf("unknown timeframe %q", raw)
}

func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF30m:
		return 30 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	}
	return 0
}
