package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv provides the minimum environment Load needs to pass
// validation. Individual tests override on top.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvConfigPath, "")
	t.Setenv("BOT_API_KEY", "test-token")
	t.Setenv("TARGET_IDS", "-1001234567890")
	t.Setenv("SIGNAL_THRESHOLDS", "1,2.0")
	t.Setenv("EXCHANGES", "")
	t.Setenv("MONITOR_ADDR", ":9000")
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.False(t, cfg.Debug)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.JSONLogs)
	assert.Equal(t, "redis://screener_redis:6379", cfg.RedisURI)
	assert.Equal(t, 5, cfg.PriceSubsets)
	assert.Equal(t, 120, cfg.SignalTimeoutSec)
	assert.Equal(t, 60, cfg.ClearIntervalSec)
	assert.Equal(t, ":9000", cfg.MonitorAddr)
	assert.Equal(t, 4, cfg.EvalWorkers)
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEBUG", "true")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOGLEVEL", "debug")
	t.Setenv("JSON_LOGS", "true")
	t.Setenv("REDIS_URI", "redis://localhost:6379/1")
	t.Setenv("EXCHANGES", "binance,okx")
	t.Setenv("SIGNAL_THRESHOLDS", "1,2.0;5,5.0")
	t.Setenv("PRICE_SUBSETS", "7")
	t.Setenv("SIGNAL_TIMEOUT", "180")
	t.Setenv("CLEAR_INTERVAL", "30")
	t.Setenv("TARGET_IDS", "-1001234567890,42")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.JSONLogs)
	assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURI)
	assert.Equal(t, []string{"binance", "okx"}, cfg.Exchanges)
	assert.Equal(t, []int64{-1001234567890, 42}, cfg.TargetIDs)
	assert.Equal(t, 7, cfg.PriceSubsets)
	assert.Equal(t, 180, cfg.SignalTimeoutSec)
	assert.Equal(t, 30, cfg.ClearIntervalSec)

	require.Len(t, cfg.Lookbacks, 2)
	assert.Equal(t, Lookback{PeriodSec: 60, Threshold: 2.0}, cfg.Lookbacks[0])
	assert.Equal(t, Lookback{PeriodSec: 300, Threshold: 5.0}, cfg.Lookbacks[1])
}

func TestLoadJSONStyleLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EXCHANGES", `["binance","bybit","gate"]`)
	t.Setenv("SIGNAL_THRESHOLDS", `["1,2.0","15,10.0"]`)
	t.Setenv("TARGET_IDS", `[-1001234567890, 99]`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"binance", "bybit", "gate"}, cfg.Exchanges)
	assert.Equal(t, []int64{-1001234567890, 99}, cfg.TargetIDs)
	require.Len(t, cfg.Lookbacks, 2)
	assert.Equal(t, 900, cfg.Lookbacks[1].PeriodSec)
	assert.InDelta(t, 10.0, cfg.Lookbacks[1].Threshold, 1e-9)
}

func TestLoadYAMLFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pumpwatch.yaml")
	yaml := `
environment: staging
log_level: warn
redis_uri: redis://file-host:6379
exchanges: [binance]
signal_thresholds: ["5,5.0"]
target_ids: [-100500]
bot_api_key: file-token
price_subsets: 6
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv(EnvConfigPath, path)
	// Empty values are skipped by the override pass, so the file's
	// required fields survive.
	t.Setenv("BOT_API_KEY", "")
	t.Setenv("TARGET_IDS", "")
	t.Setenv("SIGNAL_THRESHOLDS", "")
	t.Setenv("EXCHANGES", "")
	// Environment still beats the file where both are present.
	t.Setenv("LOGLEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "redis://file-host:6379", cfg.RedisURI)
	assert.Equal(t, []string{"binance"}, cfg.Exchanges)
	assert.Equal(t, []int64{-100500}, cfg.TargetIDs)
	assert.Equal(t, "file-token", cfg.BotAPIKey)
	assert.Equal(t, 6, cfg.PriceSubsets)
	require.Len(t, cfg.Lookbacks, 1)
	assert.Equal(t, Lookback{PeriodSec: 300, Threshold: 5.0}, cfg.Lookbacks[0])
}

func TestLoadMissingConfigFileIgnored(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(EnvConfigPath, "/nonexistent/pumpwatch.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test-token", cfg.BotAPIKey)
}

func TestMonitorAddrExplicitlyDisabled(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MONITOR_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.MonitorAddr)
}

func TestParseThresholds(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []Lookback
	}{
		{
			name: "single pair",
			raw:  []string{"1,2.0"},
			want: []Lookback{{PeriodSec: 60, Threshold: 2.0}},
		},
		{
			name: "multiple pairs",
			raw:  []string{"1,2.0", "5,5.0", "15,10"},
			want: []Lookback{
				{PeriodSec: 60, Threshold: 2.0},
				{PeriodSec: 300, Threshold: 5.0},
				{PeriodSec: 900, Threshold: 10.0},
			},
		},
		{
			name: "whitespace tolerated",
			raw:  []string{" 5 , 5.0 "},
			want: []Lookback{{PeriodSec: 300, Threshold: 5.0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseThresholds(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseThresholdsErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
	}{
		{name: "no comma", raw: []string{"5"}},
		{name: "bad period", raw: []string{"x,5.0"}},
		{name: "bad threshold", raw: []string{"5,pct"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseThresholds(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestValidateFailures(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.BotAPIKey = "token"
		cfg.TargetIDs = []int64{1}
		cfg.Lookbacks = []Lookback{{PeriodSec: 60, Threshold: 2.0}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing bot key",
			mutate:  func(c *Config) { c.BotAPIKey = "" },
			wantErr: "BOT_API_KEY",
		},
		{
			name:    "no targets",
			mutate:  func(c *Config) { c.TargetIDs = nil },
			wantErr: "TARGET_IDS",
		},
		{
			name:    "no lookbacks",
			mutate:  func(c *Config) { c.Lookbacks = nil },
			wantErr: "SIGNAL_THRESHOLDS",
		},
		{
			name:    "price subsets too small",
			mutate:  func(c *Config) { c.PriceSubsets = 1 },
			wantErr: "PRICE_SUBSETS",
		},
		{
			name:    "zero signal timeout",
			mutate:  func(c *Config) { c.SignalTimeoutSec = 0 },
			wantErr: "SIGNAL_TIMEOUT",
		},
		{
			name:    "unknown exchange",
			mutate:  func(c *Config) { c.Exchanges = []string{"mtgox"} },
			wantErr: "unknown exchange",
		},
		{
			name:    "negative threshold",
			mutate:  func(c *Config) { c.Lookbacks[0].Threshold = -1 },
			wantErr: "threshold",
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.EvalWorkers = 0 },
			wantErr: "eval_workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := Default()
	cfg.Lookbacks = []Lookback{
		{PeriodSec: 60, Threshold: 2.0},
		{PeriodSec: 900, Threshold: 10.0},
		{PeriodSec: 300, Threshold: 5.0},
	}

	assert.Equal(t, 120*time.Second, cfg.SignalTimeout())
	assert.Equal(t, 60*time.Second, cfg.ClearInterval())
	assert.Equal(t, 15*time.Minute, cfg.MaxPeriod())
	assert.Equal(t, 5*time.Minute, cfg.Lookbacks[2].Period())
}
