package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/lifecycle"
	"github.com/hoangle/tradeexec/internal/types"
)

const validYAML = `
capital:
  paper_balance: 10000.0
  real_balance: 1000.0
  max_real_positions: 5
  max_position_pct: 0.25

confirmation:
  min_confidence: 0.95
  ttl_sec: 300

execution:
  stop_loss_pct: 0.10
  take_profit_pct: 0.05
  entry_timeout_sec: 120
  exit_timeout_sec: 30
  partial_fill_policy: cancel_remainder
  max_retries: 3
  retry_backoff_ms: 500

venue:
  type: paper
  paper_slippage_pct: 0.001

persistence:
  path: "data/tradeexec.db"
  snapshot_interval_sec: 60

api:
  addr: ":8080"
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capital.PaperBalance != 10000.0 {
		t.Errorf("PaperBalance = %f, want 10000.0", cfg.Capital.PaperBalance)
	}
	if cfg.Confirmation.MinConfidence != 0.95 {
		t.Errorf("MinConfidence = %f, want 0.95", cfg.Confirmation.MinConfidence)
	}
	if cfg.Execution.StopLossPct != 0.10 {
		t.Errorf("StopLossPct = %f, want 0.10", cfg.Execution.StopLossPct)
	}
	if cfg.Venue.Type != "paper" {
		t.Errorf("Venue.Type = %s, want paper", cfg.Venue.Type)
	}
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	yaml := `
execution:
  stop_loss_pct: 0.10
  take_profit_pct: 0.05

persistence:
  path: "data/tradeexec.db"
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capital.MaxRealPositions != 5 {
		t.Errorf("MaxRealPositions = %d, want default 5", cfg.Capital.MaxRealPositions)
	}
	if cfg.Confirmation.MinConfidence != 0.95 {
		t.Errorf("MinConfidence = %f, want default 0.95", cfg.Confirmation.MinConfidence)
	}
	if cfg.Execution.PartialFillPolicy != string(lifecycle.PartialCancelRemainder) {
		t.Errorf("PartialFillPolicy = %s, want default cancel_remainder", cfg.Execution.PartialFillPolicy)
	}
	if cfg.Venue.Type != "paper" {
		t.Errorf("Venue.Type = %s, want default paper", cfg.Venue.Type)
	}
	if cfg.API.Addr != ":8080" {
		t.Errorf("API.Addr = %s, want default :8080", cfg.API.Addr)
	}
}

func TestLoadFromBytes_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing stop loss",
			yaml: `
execution:
  take_profit_pct: 0.05
persistence:
  path: "data/tradeexec.db"
`,
			wantErr: "stop_loss_pct must be between 0 and 1",
		},
		{
			name: "negative balance",
			yaml: `
capital:
  paper_balance: -1
execution:
  stop_loss_pct: 0.10
  take_profit_pct: 0.05
persistence:
  path: "data/tradeexec.db"
`,
			wantErr: "paper_balance must not be negative",
		},
		{
			name: "bad partial fill policy",
			yaml: `
execution:
  stop_loss_pct: 0.10
  take_profit_pct: 0.05
  partial_fill_policy: "panic"
persistence:
  path: "data/tradeexec.db"
`,
			wantErr: "partial_fill_policy 'panic' is not supported",
		},
		{
			name: "live venue without credentials",
			yaml: `
execution:
  stop_loss_pct: 0.10
  take_profit_pct: 0.05
venue:
  type: live
  base_url: "https://api.example.com"
persistence:
  path: "data/tradeexec.db"
`,
			wantErr: "venue.api_key and venue.api_secret are required",
		},
		{
			name: "missing persistence path",
			yaml: `
execution:
  stop_loss_pct: 0.10
  take_profit_pct: 0.05
`,
			wantErr: "persistence.path is required",
		},
		{
			name: "alerting without token",
			yaml: `
execution:
  stop_loss_pct: 0.10
  take_profit_pct: 0.05
persistence:
  path: "data/tradeexec.db"
alerting:
  enabled: true
`,
			wantErr: "alerting.bot_token and alerting.chat_id are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Error("Expected error, got nil")
				return
			}
			if !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("Error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error = %v, want to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Converters(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	led := cfg.ToLedgerConfig()
	if !led.PaperBalance.Equal(decimal.RequireFromString("10000")) {
		t.Errorf("PaperBalance = %s, want 10000", led.PaperBalance)
	}
	if !led.MaxPositionPct.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("MaxPositionPct = %s, want 0.25", led.MaxPositionPct)
	}

	g := cfg.ToGateConfig()
	if !g.MinConfidence.Equal(decimal.RequireFromString("0.95")) {
		t.Errorf("MinConfidence = %s, want 0.95", g.MinConfidence)
	}
	if g.TTL.Seconds() != 300 {
		t.Errorf("TTL = %v, want 300s", g.TTL)
	}

	lc := cfg.ToLifecycleConfig()
	if !lc.StopLossPct.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("StopLossPct = %s, want 0.1", lc.StopLossPct)
	}
	if lc.EntryTimeout.Seconds() != 120 {
		t.Errorf("EntryTimeout = %v, want 120s", lc.EntryTimeout)
	}
	if lc.RetryBackoff.Milliseconds() != 500 {
		t.Errorf("RetryBackoff = %v, want 500ms", lc.RetryBackoff)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte(validYAML), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Capital.PaperBalance != 10000.0 {
		t.Errorf("PaperBalance = %f, want 10000.0", cfg.Capital.PaperBalance)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Setenv("TEST_VENUE_KEY", "my-secret-key")
	defer os.Unsetenv("TEST_VENUE_KEY")

	yaml := `
execution:
  stop_loss_pct: 0.10
  take_profit_pct: 0.05

venue:
  type: live
  base_url: "https://api.example.com"
  websocket_url: "wss://stream.example.com"
  api_key: "${TEST_VENUE_KEY}"
  api_secret: "also-secret"

persistence:
  path: "data/tradeexec.db"
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Venue.APIKey != "my-secret-key" {
		t.Errorf("APIKey = %s, want my-secret-key", cfg.Venue.APIKey)
	}
}
