package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is reported in logs and on the health endpoint.
const Version = "0.1.0"

// EnvConfigPath names the optional YAML config file. The process takes
// no flags; configuration is environment-first and the file is a
// convenience for container deployments.
const EnvConfigPath = "PUMPWATCH_CONFIG"

// KnownExchanges are the adapter names accepted in EXCHANGES.
var KnownExchanges = []string{"binance", "bybit", "gate", "htx", "okx"}

// Lookback is one configured (period, threshold) pair: price movement
// over the trailing PeriodSec seconds is compared against Threshold
// percent.
type Lookback struct {
	PeriodSec int     `yaml:"period_sec"`
	Threshold float64 `yaml:"threshold"`
}

// Period returns the look-back window as a duration.
func (l Lookback) Period() time.Duration {
	return time.Duration(l.PeriodSec) * time.Second
}

// Config is the complete application configuration. Values resolve in
// order: defaults, optional YAML file, environment overrides.
type Config struct {
	Debug       bool   `yaml:"debug"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	JSONLogs    bool   `yaml:"json_logs"`

	RedisURI string `yaml:"redis_uri"`

	Exchanges        []string `yaml:"exchanges"`
	SignalThresholds []string `yaml:"signal_thresholds"`
	PriceSubsets     int      `yaml:"price_subsets"`
	SignalTimeoutSec int      `yaml:"signal_timeout"`
	ClearIntervalSec int      `yaml:"clear_interval"`

	TargetIDs []int64 `yaml:"target_ids"`
	BotAPIKey string  `yaml:"bot_api_key"`

	MonitorAddr string `yaml:"monitor_addr"`
	BusCapacity int    `yaml:"bus_capacity"`
	EvalWorkers int    `yaml:"eval_workers"`

	// Parsed form of SignalThresholds, populated by Load.
	Lookbacks []Lookback `yaml:"-"`
}

// Default returns the configuration before file and environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Environment:      "development",
		LogLevel:         "info",
		RedisURI:         "redis://screener_redis:6379",
		PriceSubsets:     5,
		SignalTimeoutSec: 120,
		ClearIntervalSec: 60,
		MonitorAddr:      ":9000",
		EvalWorkers:      4,
	}
}

// Load resolves the configuration: defaults, then the optional YAML
// file named by PUMPWATCH_CONFIG, then environment variables, then
// validation.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	lookbacks, err := ParseThresholds(cfg.SignalThresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid SIGNAL_THRESHOLDS: %w", err)
	}
	cfg.Lookbacks = lookbacks

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		// A configured-but-absent file is not an error; the
		// environment alone can carry a full configuration.
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate ensures the configuration is complete enough to start.
// Failures here are fatal at startup.
func (c *Config) Validate() error {
	if c.BotAPIKey == "" {
		return fmt.Errorf("BOT_API_KEY is required")
	}
	if len(c.TargetIDs) == 0 {
		return fmt.Errorf("TARGET_IDS cannot be empty")
	}
	if len(c.Lookbacks) == 0 {
		return fmt.Errorf("SIGNAL_THRESHOLDS cannot be empty")
	}
	for _, lb := range c.Lookbacks {
		if lb.PeriodSec <= 0 {
			return fmt.Errorf("look-back period must be positive, got %d", lb.PeriodSec)
		}
		if lb.Threshold <= 0 {
			return fmt.Errorf("threshold must be positive, got %f", lb.Threshold)
		}
	}
	if c.PriceSubsets < 2 {
		return fmt.Errorf("PRICE_SUBSETS must be at least 2, got %d", c.PriceSubsets)
	}
	if c.SignalTimeoutSec <= 0 {
		return fmt.Errorf("SIGNAL_TIMEOUT must be positive, got %d", c.SignalTimeoutSec)
	}
	if c.ClearIntervalSec <= 0 {
		return fmt.Errorf("CLEAR_INTERVAL must be positive, got %d", c.ClearIntervalSec)
	}
	if c.RedisURI == "" {
		return fmt.Errorf("REDIS_URI cannot be empty")
	}
	if c.BusCapacity < 0 {
		return fmt.Errorf("bus_capacity cannot be negative, got %d", c.BusCapacity)
	}
	if c.EvalWorkers <= 0 {
		return fmt.Errorf("eval_workers must be positive, got %d", c.EvalWorkers)
	}
	for _, name := range c.Exchanges {
		if !isKnownExchange(name) {
			return fmt.Errorf("unknown exchange %q (accepted: %v)", name, KnownExchanges)
		}
	}
	return nil
}

func isKnownExchange(name string) bool {
	for _, known := range KnownExchanges {
		if name == known {
			return true
		}
	}
	return false
}

// SignalTimeout returns the latch TTL applied to newly emitted alerts.
func (c *Config) SignalTimeout() time.Duration {
	return time.Duration(c.SignalTimeoutSec) * time.Second
}

// ClearInterval returns the minimum gap between retention trims per
// market.
func (c *Config) ClearInterval() time.Duration {
	return time.Duration(c.ClearIntervalSec) * time.Second
}

// MaxPeriod returns the largest configured look-back window. Price
// series retention derives from it.
func (c *Config) MaxPeriod() time.Duration {
	max := 0
	for _, lb := range c.Lookbacks {
		if lb.PeriodSec > max {
			max = lb.PeriodSec
		}
	}
	return time.Duration(max) * time.Second
}
