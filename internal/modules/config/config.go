package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"paper_bot/internal/helper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	providerKeysENV   = "PROVIDER_KEYS"
)

type InstrumentSeed struct {
	Code      string  `yaml:"code"`
	PointSize float64 `yaml:"point_size"`
	Precision int     `yaml:"precision"`
	Active    bool    `yaml:"active"`
}

type FlatSettings struct {
	LookbackCandles   int     `yaml:"lookback_candles"`
	RangePctThreshold float64 `yaml:"range_pct_threshold"`
}

type EntrySettings struct {
	UseCurrentCandle bool `yaml:"use_current_candle"`
}

type TrailingSettings struct {
	Pct                 float64 `yaml:"pct"`                     // drawdown from best price, in percent of best
	MinProfitToTrailPct float64 `yaml:"min_profit_to_trail_pct"` // activation threshold
}

type RiskSettings struct {
	StopLossPoints   float64          `yaml:"stop_loss_points"`
	TakeProfitPoints float64          `yaml:"take_profit_points"`
	MaxHoldMinutes   int              `yaml:"max_hold_minutes"`
	Trailing         TrailingSettings `yaml:"trailing"`
}

type WindowSpec struct {
	Minutes int `yaml:"minutes"`
	Points  int `yaml:"points"` // tick-count cap per window
}

type PriceWindowSettings struct {
	Windows       map[string]WindowSpec `yaml:"windows"` // keyed by timeframe label
	FlatThreshold float64               `yaml:"flat_threshold"`
}

// ExitSettings keeps the coarse and fine strategies independently tuned;
// their thresholds are intentionally not shared.
type ExitSettings struct {
	Mode                 string   `yaml:"mode"` // coarse | fine | both
	QuoteMaxAgeSec       int      `yaml:"quote_max_age_sec"`
	CoarseQuoteMaxAgeSec int      `yaml:"coarse_quote_max_age_sec"`
	HardStopPct          float64  `yaml:"hard_stop_pct"`
	ReversalTimeframes   []string `yaml:"reversal_tfs"`
	ReversalMinCount     int      `yaml:"reversal_min_count"`
	ReversalMinStrength  float64  `yaml:"reversal_min_strength"`
}

type StrategySettings struct {
	Timeframes     []string            `yaml:"timeframes"`
	Weights        map[string]float64  `yaml:"weights"`
	TotalThreshold int                 `yaml:"total_threshold"`
	Flat           FlatSettings        `yaml:"flat"`
	Entry          EntrySettings       `yaml:"entry"`
	Risk           RiskSettings        `yaml:"risk"`
	PriceWindows   PriceWindowSettings `yaml:"price_windows"`
	Exit           ExitSettings        `yaml:"exit"`
}

type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
	} `yaml:"service"`
	Tracing struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"tracing"`

	Provider struct {
		BaseURL         string   `yaml:"base_url"`
		Keys            []string `yaml:"keys"`
		CooldownHours   int      `yaml:"cooldown_hours"`
		TimeoutSec      int      `yaml:"timeout_sec"`
		Retries         int      `yaml:"retries"`
		RequestsPerSec  float64  `yaml:"requests_per_sec"`
		StreamURL       string   `yaml:"stream_url"`
		CandleBatchSize int      `yaml:"candle_batch_size"`
	} `yaml:"provider"`

	Scheduler struct {
		FastIntervalSec    int `yaml:"fast_interval_sec"`
		SlowIntervalSec    int `yaml:"slow_interval_sec"`
		WarmupMinutes      int `yaml:"warmup_minutes"`
		CooldownMinutes    int `yaml:"cooldown_minutes"`
		CycleEverySec      int `yaml:"cycle_every_sec"`
		ParallelInstrument int `yaml:"parallel_instruments"`
	} `yaml:"scheduler"`

	Instruments []InstrumentSeed `yaml:"instruments"`

	Strategy StrategySettings `yaml:"strategy"`
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	decoder.SetStrict(true) // unknown keys are a config fault, not a silent default

	config := defaultConfig()
	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	if keys := os.Getenv(providerKeysENV); keys != "" {
		config.Provider.Keys = splitCSV(keys)
	}

	for i, tf := range config.Strategy.Timeframes {
		config.Strategy.Timeframes[i] = helper.NormTF(tf)
	}
	for i, tf := range config.Strategy.Exit.ReversalTimeframes {
		config.Strategy.Exit.ReversalTimeframes[i] = helper.NormTF(tf)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	var c Config

	c.Provider.CooldownHours = 6
	c.Provider.TimeoutSec = intFromEnv("PROVIDER_TIMEOUT_SEC", 5)
	c.Provider.Retries = intFromEnv("PROVIDER_RETRIES", 2)
	c.Provider.RequestsPerSec = floatFromEnv("PROVIDER_RPS", 4)
	c.Provider.CandleBatchSize = 100

	c.Scheduler.FastIntervalSec = intFromEnv("FAST_INTERVAL_SEC", 60)
	c.Scheduler.SlowIntervalSec = intFromEnv("SLOW_INTERVAL_SEC", 600)
	c.Scheduler.WarmupMinutes = 60
	c.Scheduler.CooldownMinutes = 120
	c.Scheduler.CycleEverySec = intFromEnv("CYCLE_EVERY_SEC", 60)
	c.Scheduler.ParallelInstrument = intFromEnv("PARALLEL_INSTRUMENTS", 4)

	c.Strategy = StrategySettings{
		Timeframes:     []string{"15m", "1h"},
		TotalThreshold: 1,
		Flat: FlatSettings{
			LookbackCandles:   5,
			RangePctThreshold: 0.001,
		},
		Risk: RiskSettings{
			StopLossPoints:   300,
			TakeProfitPoints: 600,
			MaxHoldMinutes:   240,
			Trailing: TrailingSettings{
				Pct:                 0.15,
				MinProfitToTrailPct: 0.2,
			},
		},
		PriceWindows: PriceWindowSettings{
			Windows: map[string]WindowSpec{
				"5m":  {Minutes: 5, Points: 60},
				"15m": {Minutes: 15, Points: 120},
			},
			FlatThreshold: 0.0005,
		},
		Exit: ExitSettings{
			Mode:                 "both",
			QuoteMaxAgeSec:       120,
			CoarseQuoteMaxAgeSec: 600,
			HardStopPct:          0.5,
			ReversalTimeframes:   []string{"5m", "15m"},
			ReversalMinCount:     2,
			ReversalMinStrength:  0.001,
		},
	}

	return c
}

func (c *Config) Validate() error {
	if len(c.Provider.Keys) == 0 {
		return fmt.Errorf("provider: at least one key is required")
	}
	if len(c.Strategy.Timeframes) == 0 {
		return fmt.Errorf("strategy: timeframes must not be empty")
	}
	for _, tf := range c.Strategy.Timeframes {
		if !validTimeframe(tf) {
			return fmt.Errorf("strategy: unknown timeframe %q", tf)
		}
	}
	for _, tf := range c.Strategy.Exit.ReversalTimeframes {
		if !validTimeframe(tf) {
			return fmt.Errorf("exit: unknown reversal timeframe %q", tf)
		}
	}
	switch c.Strategy.Exit.Mode {
	case "coarse", "fine", "both":
	default:
		return fmt.Errorf("exit: mode must be coarse, fine or both, got %q", c.Strategy.Exit.Mode)
	}
	if c.Strategy.Exit.HardStopPct <= 0 {
		return fmt.Errorf("exit: hard_stop_pct must be positive")
	}
	if c.Strategy.Exit.QuoteMaxAgeSec <= 0 || c.Strategy.Exit.CoarseQuoteMaxAgeSec <= 0 {
		return fmt.Errorf("exit: quote max age must be positive")
	}
	if c.Strategy.Risk.MaxHoldMinutes <= 0 {
		return fmt.Errorf("risk: max_hold_minutes must be positive")
	}
	if c.Strategy.Risk.Trailing.Pct < 0 || c.Strategy.Risk.Trailing.MinProfitToTrailPct < 0 {
		return fmt.Errorf("risk: trailing thresholds must not be negative")
	}
	for tf, w := range c.Strategy.PriceWindows.Windows {
		if !validTimeframe(tf) {
			return fmt.Errorf("price_windows: unknown timeframe %q", tf)
		}
		if w.Minutes <= 0 || w.Points <= 0 {
			return fmt.Errorf("price_windows[%s]: minutes and points must be positive", tf)
		}
	}
	for _, seed := range c.Instruments {
		if len(seed.Code) != 6 {
			return fmt.Errorf("instrument %q: code must be 3+3 characters", seed.Code)
		}
		if seed.PointSize <= 0 {
			return fmt.Errorf("instrument %q: point_size must be positive", seed.Code)
		}
	}
	return nil
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSec) * time.Second
}

func (c *Config) ProviderCooldown() time.Duration {
	return time.Duration(c.Provider.CooldownHours) * time.Hour
}

func validTimeframe(tf string) bool {
	switch tf {
	case "5m", "15m", "30m", "1h", "4h", "1d":
		return true
	}
	return false
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
