package models

import (
	"fmt"
	"strings"
)

// Trade is a single normalised trade print. Field tags follow the
// normalised wire form shared by all venue adapters: symbol, price,
// event time in milliseconds since epoch.
type Trade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"T"`
}

// TradeBatch carries the trades decoded from one venue frame. Batching
// amortises per-frame overhead on the bus and in the ingestion engine.
type TradeBatch struct {
	Exchange string  `json:"exchange"`
	Data     []Trade `json:"data"`
}

// MarketKey identifies a tradable (exchange, symbol) pair. It doubles
// as the price-series key in the store.
type MarketKey string

// NewMarketKey composes the canonical "<exchange>_<symbol>" key.
func NewMarketKey(exchange, symbol string) MarketKey {
	return MarketKey(exchange + "_" + symbol)
}

// Split returns the exchange and symbol halves. The split happens at
// the first underscore only: none of the supported exchange names
// contain one, while symbols may.
func (k MarketKey) Split() (exchange, symbol string) {
	parts := strings.SplitN(string(k), "_", 2)
	if len(parts) < 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func (k MarketKey) String() string {
	return string(k)
}

// SignalsKey is the store key of the market's signal-event series.
func (k MarketKey) SignalsKey() string {
	return string(k) + "_signals"
}

// LatchKey is the KV key latching the last reported percent change for
// one (market, look-back) pair. Presence of the key means an alert is
// currently active for that pair.
func (k MarketKey) LatchKey(periodSec int) string {
	return fmt.Sprintf("%s_%d_last_percent", string(k), periodSec)
}

// Direction classifies a detected move.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// DirectionFromUptrend maps the trend classifier's verdict to a
// Direction.
func DirectionFromUptrend(uptrend bool) Direction {
	if uptrend {
		return DirectionUp
	}
	return DirectionDown
}

// MessageKey is the KV key under which the notifier stores the sink's
// message handle, one per (chat, market, look-back, direction).
func MessageKey(chatID int64, exchange, symbol string, periodSec int, dir Direction) string {
	return fmt.Sprintf("%d_%s_%s_%d_%s", chatID, exchange, symbol, periodSec, dir)
}
