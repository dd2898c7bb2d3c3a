package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies environment variable overrides on top of
// defaults and file values. Unparseable scalars keep the prior value.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEBUG"); v != "" {
		if val, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = val
		}
	}

	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}

	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("JSON_LOGS"); v != "" {
		if val, err := strconv.ParseBool(v); err == nil {
			cfg.JSONLogs = val
		}
	}

	if v := os.Getenv("REDIS_URI"); v != "" {
		cfg.RedisURI = v
	}

	if v := os.Getenv("EXCHANGES"); v != "" {
		cfg.Exchanges = parseList(v, ",")
	}

	if v := os.Getenv("SIGNAL_THRESHOLDS"); v != "" {
		cfg.SignalThresholds = parseList(v, ";")
	}

	if v := os.Getenv("PRICE_SUBSETS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.PriceSubsets = val
		}
	}

	if v := os.Getenv("SIGNAL_TIMEOUT"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.SignalTimeoutSec = val
		}
	}

	if v := os.Getenv("CLEAR_INTERVAL"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.ClearIntervalSec = val
		}
	}

	if v := os.Getenv("TARGET_IDS"); v != "" {
		if vals, err := parseInt64List(v); err == nil {
			cfg.TargetIDs = vals
		}
	}

	if v := os.Getenv("BOT_API_KEY"); v != "" {
		cfg.BotAPIKey = v
	}

	// An explicitly empty MONITOR_ADDR disables the monitor server,
	// so presence matters here, not just non-emptiness.
	if v, ok := os.LookupEnv("MONITOR_ADDR"); ok {
		cfg.MonitorAddr = v
	}

	if v := os.Getenv("BUS_CAPACITY"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.BusCapacity = val
		}
	}

	if v := os.Getenv("EVAL_WORKERS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.EvalWorkers = val
		}
	}
}

// parseList splits a list-valued environment variable. Both a JSON
// array ('["a","b"]') and a sep-delimited string ("a<sep>b") are
// accepted; the JSON form matches how the original deployments wrote
// these variables.
func parseList(raw, sep string) []string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			return trimBlank(items)
		}
	}
	return trimBlank(strings.Split(raw, sep))
}

func trimBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseInt64List(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var vals []int64
		if err := json.Unmarshal([]byte(raw), &vals); err == nil {
			return vals, nil
		}
	}
	items := parseList(raw, ",")
	out := make([]int64, 0, len(items))
	for _, item := range items {
		val, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", item, err)
		}
		out = append(out, val)
	}
	return out, nil
}

// ParseThresholds converts raw "period_minutes,threshold" pairs into
// look-backs. Periods arrive in minutes and are stored in seconds.
func ParseThresholds(raw []string) ([]Lookback, error) {
	out := make([]Lookback, 0, len(raw))
	for _, item := range raw {
		parts := strings.SplitN(item, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed pair %q, want \"minutes,threshold\"", item)
		}
		periodMin, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid period in %q: %w", item, err)
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold in %q: %w", item, err)
		}
		out = append(out, Lookback{PeriodSec: periodMin * 60, Threshold: threshold})
	}
	return out, nil
}
