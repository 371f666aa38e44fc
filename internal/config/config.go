package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine, loaded from a YAML
// file with environment-variable overrides for secrets.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Screener  ScreenerConfig  `yaml:"screener"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Database  DatabaseConfig  `yaml:"database"`
	Journal   JournalConfig   `yaml:"journal"`
}

type BrokerConfig struct {
	AppKey     string `yaml:"app_key"`
	AppSecret  string `yaml:"app_secret"`
	Sandbox    bool   `yaml:"sandbox"`
	TokenCache string `yaml:"token_cache"`
}

// StrategyConfig is the runtime-tunable strategy record. It is read
// through a Store snapshot; positions lock their own copy at entry so
// later edits never touch an open trade.
type StrategyConfig struct {
	ORBMinutes         int     `yaml:"orb_minutes" json:"orb_minutes"`
	BreakoutBufferPct  float64 `yaml:"breakout_buffer_pct" json:"breakout_buffer_pct"`
	TargetProfitPct    float64 `yaml:"target_profit_pct" json:"target_profit_pct"`
	StopLossPct        float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	PartialProfitPct   float64 `yaml:"partial_profit_pct" json:"partial_profit_pct"` // 0 disables partial TP
	PartialProfitRatio float64 `yaml:"partial_profit_ratio" json:"partial_profit_ratio"`
	TimeStop           string  `yaml:"time_stop" json:"time_stop"` // "HH:MM" in session timezone
	EMAShort           int     `yaml:"ema_short" json:"ema_short"`
	EMALong            int     `yaml:"ema_long" json:"ema_long"`
	RVOLWindow         int     `yaml:"rvol_window" json:"rvol_window"`
	RVOLThreshold      float64 `yaml:"rvol_threshold" json:"rvol_threshold"`
	OBIThreshold       float64 `yaml:"obi_threshold" json:"obi_threshold"`
	StrengthThreshold  float64 `yaml:"strength_threshold" json:"strength_threshold"`
	MaxPositions       int     `yaml:"max_positions" json:"max_positions"`
	InvestmentAmount   int64   `yaml:"investment_amount" json:"investment_amount"`
	CheckAvailableCash bool    `yaml:"check_available_cash" json:"check_available_cash"`
}

type ScreenerConfig struct {
	IntervalMinutes int     `yaml:"interval_minutes"`
	MaxTargets      int     `yaml:"max_targets"`
	MinPrice        float64 `yaml:"min_price"`
	MinSurgePct     float64 `yaml:"min_surge_pct"`
	MinVolume       int64   `yaml:"min_volume"`
	Market          string  `yaml:"market"`
}

type SessionConfig struct {
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"` // "HH:MM"
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

// Default returns the baseline configuration; the YAML file and env
// overrides are layered on top.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Sandbox:    true,
			TokenCache: "data/.token.json",
		},
		Strategy: StrategyConfig{
			ORBMinutes:         15,
			BreakoutBufferPct:  0.15,
			TargetProfitPct:    2.5,
			StopLossPct:        -1.0,
			PartialProfitPct:   1.5,
			PartialProfitRatio: 0.4,
			TimeStop:           "14:50",
			EMAShort:           9,
			EMALong:            20,
			RVOLWindow:         20,
			RVOLThreshold:      130,
			OBIThreshold:       1.5,
			StrengthThreshold:  100,
			MaxPositions:       3,
			InvestmentAmount:   1_000_000,
			CheckAvailableCash: true,
		},
		Screener: ScreenerConfig{
			IntervalMinutes: 3,
			MaxTargets:      10,
			MinPrice:        1000,
			MinSurgePct:     100,
			MinVolume:       50_000,
			Market:          "000",
		},
		Session: SessionConfig{
			Timezone: "Asia/Seoul",
			Open:     "09:00",
		},
		Logging:   LoggingConfig{Level: "info"},
		Dashboard: DashboardConfig{Enabled: true, Listen: ":8089"},
		Database:  DatabaseConfig{Path: "data/orbgate.db"},
		Journal:   JournalConfig{Path: "data/trades.log"},
	}
}

// Load reads the YAML file at path (missing file keeps defaults),
// applies env overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Secrets come from the environment when present.
	cfg.Broker.AppKey = getEnv("BROKER_APP_KEY", cfg.Broker.AppKey)
	cfg.Broker.AppSecret = getEnv("BROKER_APP_SECRET", cfg.Broker.AppSecret)
	cfg.Broker.Sandbox = getEnvBool("BROKER_SANDBOX", cfg.Broker.Sandbox)
	cfg.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.Token)
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}
	cfg.Database.Path = getEnv("DATABASE_PATH", cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if c.Broker.AppKey == "" || c.Broker.AppSecret == "" {
		return fmt.Errorf("broker app_key and app_secret are required")
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return fmt.Errorf("invalid session timezone %q: %w", c.Session.Timezone, err)
	}
	if _, _, err := ParseHHMM(c.Session.Open); err != nil {
		return fmt.Errorf("invalid session open: %w", err)
	}
	if c.Screener.MaxTargets <= 0 {
		return fmt.Errorf("screener max_targets must be positive")
	}
	return nil
}

// Validate checks a strategy record; also used for dashboard updates.
func (s *StrategyConfig) Validate() error {
	if s.ORBMinutes <= 0 {
		return fmt.Errorf("orb_minutes must be positive")
	}
	if s.EMAShort <= 0 || s.EMALong <= 0 || s.EMAShort >= s.EMALong {
		return fmt.Errorf("ema periods must satisfy 0 < short < long")
	}
	if s.RVOLWindow <= 0 {
		return fmt.Errorf("rvol_window must be positive")
	}
	if s.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive")
	}
	if s.InvestmentAmount <= 0 {
		return fmt.Errorf("investment_amount must be positive")
	}
	if s.PartialProfitPct > 0 && (s.PartialProfitRatio <= 0 || s.PartialProfitRatio > 1) {
		return fmt.Errorf("partial_profit_ratio must be in (0,1] when partial TP is enabled")
	}
	if _, _, err := ParseHHMM(s.TimeStop); err != nil {
		return fmt.Errorf("invalid time_stop: %w", err)
	}
	return nil
}

// Location resolves the session timezone. Validate guarantees success.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionOpen returns the session open on the given day in loc.
func (c *Config) SessionOpen(day time.Time, loc *time.Location) time.Time {
	h, m, _ := ParseHHMM(c.Session.Open)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
}

// ParseHHMM parses "HH:MM" into hour and minute.
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("out of range: %q", s)
	}
	return hour, minute, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
