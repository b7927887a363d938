// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hoangle/tradeexec/internal/gate"
	"github.com/hoangle/tradeexec/internal/ledger"
	"github.com/hoangle/tradeexec/internal/lifecycle"
	"github.com/hoangle/tradeexec/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Capital      CapitalConfig      `yaml:"capital"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Execution    ExecutionConfig    `yaml:"execution"`
	Venue        VenueConfig        `yaml:"venue"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	Alerting     AlertingConfig     `yaml:"alerting"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	API          APIConfig          `yaml:"api"`
	Shutdown     ShutdownConfig     `yaml:"shutdown"`
}

// CapitalConfig holds ledger settings.
type CapitalConfig struct {
	PaperBalance     float64 `yaml:"paper_balance"`
	RealBalance      float64 `yaml:"real_balance"`
	MaxRealPositions int     `yaml:"max_real_positions"`
	MaxPositionPct   float64 `yaml:"max_position_pct"`
}

// ConfirmationConfig holds real-mode gate settings.
type ConfirmationConfig struct {
	MinConfidence   float64 `yaml:"min_confidence"`
	TTLSec          int     `yaml:"ttl_sec"`
	AwaitTimeoutSec int     `yaml:"await_timeout_sec"`
}

// ExecutionConfig holds order lifecycle settings.
type ExecutionConfig struct {
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	TakeProfitPct     float64 `yaml:"take_profit_pct"`
	EntryTimeoutSec   int     `yaml:"entry_timeout_sec"`
	ExitTimeoutSec    int     `yaml:"exit_timeout_sec"`
	PartialFillPolicy string  `yaml:"partial_fill_policy"` // cancel_remainder | keep_open | resubmit
	MaxRetries        int     `yaml:"max_retries"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms"`
}

// VenueConfig holds exchange adapter settings.
type VenueConfig struct {
	Type               string  `yaml:"type"` // paper | live
	BaseURL            string  `yaml:"base_url"`
	WebsocketURL       string  `yaml:"websocket_url"`
	APIKey             string  `yaml:"api_key"`
	APISecret          string  `yaml:"api_secret"`
	RateLimitPerSecond int     `yaml:"rate_limit_per_second"`
	PaperSlippagePct   float64 `yaml:"paper_slippage_pct"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Path                string `yaml:"path"`
	SnapshotIntervalSec int    `yaml:"snapshot_interval_sec"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment
// variables in the file are expanded before parsing, so secrets like
// ${VENUE_API_KEY} stay out of the file itself.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration, applying defaults where a zero
// value has an unambiguous meaning.
func (c *Config) Validate() error {
	var errs []string

	// Capital validation
	if c.Capital.PaperBalance < 0 {
		errs = append(errs, "capital.paper_balance must not be negative")
	}
	if c.Capital.RealBalance < 0 {
		errs = append(errs, "capital.real_balance must not be negative")
	}
	if c.Capital.MaxRealPositions <= 0 {
		c.Capital.MaxRealPositions = 5 // default
	}
	if c.Capital.MaxPositionPct < 0 || c.Capital.MaxPositionPct > 1 {
		errs = append(errs, "capital.max_position_pct must be between 0 and 1")
	}

	// Confirmation validation
	if c.Confirmation.MinConfidence <= 0 {
		c.Confirmation.MinConfidence = 0.95 // default
	}
	if c.Confirmation.MinConfidence > 1 {
		errs = append(errs, "confirmation.min_confidence must be between 0 and 1")
	}
	if c.Confirmation.TTLSec <= 0 {
		c.Confirmation.TTLSec = 300 // default
	}
	if c.Confirmation.AwaitTimeoutSec <= 0 {
		c.Confirmation.AwaitTimeoutSec = c.Confirmation.TTLSec
	}

	// Execution validation
	if c.Execution.StopLossPct <= 0 || c.Execution.StopLossPct >= 1 {
		errs = append(errs, "execution.stop_loss_pct must be between 0 and 1")
	}
	if c.Execution.TakeProfitPct <= 0 || c.Execution.TakeProfitPct >= 1 {
		errs = append(errs, "execution.take_profit_pct must be between 0 and 1")
	}
	if c.Execution.EntryTimeoutSec <= 0 {
		c.Execution.EntryTimeoutSec = 120 // default
	}
	if c.Execution.ExitTimeoutSec <= 0 {
		c.Execution.ExitTimeoutSec = 30 // default
	}
	switch lifecycle.PartialFillPolicy(c.Execution.PartialFillPolicy) {
	case lifecycle.PartialCancelRemainder, lifecycle.PartialKeepOpen, lifecycle.PartialResubmit:
	case "":
		c.Execution.PartialFillPolicy = string(lifecycle.PartialCancelRemainder)
	default:
		errs = append(errs, fmt.Sprintf("execution.partial_fill_policy '%s' is not supported", c.Execution.PartialFillPolicy))
	}
	if c.Execution.MaxRetries < 0 {
		c.Execution.MaxRetries = 3 // default
	}
	if c.Execution.RetryBackoffMs <= 0 {
		c.Execution.RetryBackoffMs = 500 // default
	}

	// Venue validation
	switch c.Venue.Type {
	case "paper", "":
		if c.Venue.Type == "" {
			c.Venue.Type = "paper"
		}
	case "live":
		if c.Venue.BaseURL == "" {
			errs = append(errs, "venue.base_url is required for live venue")
		}
		if c.Venue.WebsocketURL == "" {
			errs = append(errs, "venue.websocket_url is required for live venue")
		}
		if c.Venue.APIKey == "" || c.Venue.APISecret == "" {
			errs = append(errs, "venue.api_key and venue.api_secret are required for live venue")
		}
	default:
		errs = append(errs, fmt.Sprintf("venue.type '%s' is not supported", c.Venue.Type))
	}
	if c.Venue.RateLimitPerSecond <= 0 {
		c.Venue.RateLimitPerSecond = 10 // default
	}

	// Persistence validation
	if c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required")
	}
	if c.Persistence.SnapshotIntervalSec <= 0 {
		c.Persistence.SnapshotIntervalSec = 60 // default
	}

	// Alerting validation
	if c.Alerting.Enabled {
		if c.Alerting.BotToken == "" || c.Alerting.ChatID == "" {
			errs = append(errs, "alerting.bot_token and alerting.chat_id are required when alerting is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090" // default
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080" // default
	}
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 30 // default
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToLedgerConfig converts to ledger.Config.
func (c *Config) ToLedgerConfig() ledger.Config {
	return ledger.Config{
		PaperBalance:     decimal.NewFromFloat(c.Capital.PaperBalance),
		RealBalance:      decimal.NewFromFloat(c.Capital.RealBalance),
		MaxRealPositions: c.Capital.MaxRealPositions,
		MaxPositionPct:   decimal.NewFromFloat(c.Capital.MaxPositionPct),
	}
}

// ToGateConfig converts to gate.Config.
func (c *Config) ToGateConfig() gate.Config {
	return gate.Config{
		MinConfidence: decimal.NewFromFloat(c.Confirmation.MinConfidence),
		TTL:           time.Duration(c.Confirmation.TTLSec) * time.Second,
	}
}

// ToLifecycleConfig converts to lifecycle.Config.
func (c *Config) ToLifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		StopLossPct:       decimal.NewFromFloat(c.Execution.StopLossPct),
		TakeProfitPct:     decimal.NewFromFloat(c.Execution.TakeProfitPct),
		EntryTimeout:      time.Duration(c.Execution.EntryTimeoutSec) * time.Second,
		ExitTimeout:       time.Duration(c.Execution.ExitTimeoutSec) * time.Second,
		PartialFillPolicy: lifecycle.PartialFillPolicy(c.Execution.PartialFillPolicy),
		MaxRetries:        c.Execution.MaxRetries,
		RetryBackoff:      time.Duration(c.Execution.RetryBackoffMs) * time.Millisecond,
	}
}

// AwaitTimeout returns how long Accept waits for operator confirmation.
func (c *Config) AwaitTimeout() time.Duration {
	return time.Duration(c.Confirmation.AwaitTimeoutSec) * time.Second
}

// SnapshotInterval returns the capital snapshot interval duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Persistence.SnapshotIntervalSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}
