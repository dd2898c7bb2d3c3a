// Package screener turns the normalised trade flow into price
// movement alerts. The Engine is the single consumer of the trade bus
// and owns all per-market state; the Evaluator classifies windows of
// stored prices and drives the per-(market, look-back) signal
// latches; the Watcher reports throughput.
package screener

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/bus"
	"github.com/sawpanic/pumpwatch/internal/config"
	"github.com/sawpanic/pumpwatch/internal/metrics"
	"github.com/sawpanic/pumpwatch/internal/models"
	"github.com/sawpanic/pumpwatch/internal/store"
)

// marketState is the engine-private record behind the dedupe rule and
// the evaluation/trim guards. Owned exclusively by the engine
// goroutine.
type marketState struct {
	price       float64
	timestampMs int64
	savedTs     int64
	checkTs     time.Time
	clearTs     time.Time
}

// Engine consumes the trade bus, down-samples prices into the store,
// and schedules evaluation and retention trims for the markets it
// touches.
type Engine struct {
	bus     *bus.Bus
	store   store.Store
	pool    *Pool
	metrics *metrics.Registry

	maxPeriod     time.Duration
	clearInterval time.Duration

	markets     map[models.MarketKey]*marketState
	marketCount atomic.Int64
	trades      atomic.Int64

	// now is the ingestion clock. Tests pin it.
	now func() time.Time
}

// NewEngine builds the bus consumer. The pool receives the evaluation
// jobs the engine schedules.
func NewEngine(cfg *config.Config, b *bus.Bus, st store.Store, pool *Pool, m *metrics.Registry) *Engine {
	return &Engine{
		bus:           b,
		store:         st,
		pool:          pool,
		metrics:       m,
		maxPeriod:     cfg.MaxPeriod(),
		clearInterval: cfg.ClearInterval(),
		markets:       make(map[models.MarketKey]*marketState),
		now:           time.Now,
	}
}

// Run consumes the trade bus until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().
		Dur("max_period", e.maxPeriod).
		Dur("clear_interval", e.clearInterval).
		Msg("ingestion engine started")

	for {
		batch, err := e.bus.Recv(ctx)
		if err != nil {
			return err
		}
		e.processBatch(ctx, batch)
	}
}

// processBatch ingests one batch, then schedules evaluation and a
// retention trim for the last market it touched. An empty batch
// schedules nothing.
func (e *Engine) processBatch(ctx context.Context, batch models.TradeBatch) {
	// Each 500 buffered batches widen the per-market write window by
	// 100ms. Soft back-pressure: the store sees fewer points while the
	// bus is backed up.
	window := time.Duration(e.bus.Depth()/500) * 100 * time.Millisecond

	var lastKey models.MarketKey
	for _, trade := range batch.Data {
		lastKey = e.ingest(ctx, batch.Exchange, trade, window)
	}
	if lastKey == "" {
		return
	}

	e.maybeEvaluate(lastKey, window)
	e.maybeTrim(ctx, lastKey)
}

// ingest applies the dedupe rule to one trade and persists the price
// when it passes. Returns the trade's market key either way.
func (e *Engine) ingest(ctx context.Context, exchange string, trade models.Trade, window time.Duration) models.MarketKey {
	key := models.NewMarketKey(exchange, trade.Symbol)
	e.trades.Add(1)
	e.metrics.RecordTradeReceived(exchange)

	st, ok := e.markets[key]
	if !ok {
		st = e.createMarket(ctx, key)
	}

	switch {
	case st.price == trade.Price:
		e.metrics.RecordTradeSkipped(metrics.SkipSamePrice)
		return key
	case st.savedTs == trade.Timestamp:
		e.metrics.RecordTradeSkipped(metrics.SkipSameTs)
		return key
	case st.savedTs > e.now().UnixMilli()-window.Milliseconds():
		e.metrics.RecordTradeSkipped(metrics.SkipBackpressure)
		return key
	}

	if err := e.store.Add(ctx, key.String(), trade.Timestamp, trade.Price); err != nil {
		e.metrics.RecordStoreError("add")
		log.Error().Err(err).Str("market", key.String()).Msg("failed to write price")
	} else {
		st.savedTs = trade.Timestamp
		e.metrics.RecordTradePersisted(exchange)
	}

	st.price = trade.Price
	st.timestampMs = trade.Timestamp
	return key
}

// createMarket initialises per-market state and makes sure both
// series exist. The state entry is created first so a failed store
// call does not leave the market untracked.
func (e *Engine) createMarket(ctx context.Context, key models.MarketKey) *marketState {
	st := &marketState{}
	e.markets[key] = st
	e.marketCount.Store(int64(len(e.markets)))

	e.ensureSeries(ctx, key.String(), e.maxPeriod)
	e.ensureSeries(ctx, key.SignalsKey(), 24*time.Hour)
	return st
}

func (e *Engine) ensureSeries(ctx context.Context, key string, retention time.Duration) {
	exists, err := e.store.Exists(ctx, key)
	if err != nil {
		e.metrics.RecordStoreError("exists")
		log.Error().Err(err).Str("key", key).Msg("failed to check series")
		return
	}
	if exists {
		return
	}
	if err := e.store.CreateSeries(ctx, key, retention); err != nil {
		e.metrics.RecordStoreError("create")
		log.Error().Err(err).Str("key", key).Msg("failed to create series")
	}
}

// maybeEvaluate submits the market to the evaluation pool unless it
// was checked within the guard window: the back-pressure window,
// floored at one second.
func (e *Engine) maybeEvaluate(key models.MarketKey, window time.Duration) {
	guard := window
	if guard < time.Second {
		guard = time.Second
	}

	st := e.markets[key]
	now := e.now()
	if st.checkTs.After(now.Add(-guard)) {
		return
	}
	st.checkTs = now

	e.pool.Submit(key)
}

// maybeTrim prunes both series outside their retention windows, at
// most once per clearInterval per market. The price series keeps the
// largest look-back window, the signal series 24 hours.
func (e *Engine) maybeTrim(ctx context.Context, key models.MarketKey) {
	st := e.markets[key]
	now := e.now()
	if !st.clearTs.IsZero() && st.clearTs.After(now.Add(-e.clearInterval)) {
		return
	}
	st.clearTs = now

	nowSec := now.Unix()
	dayAgoMs := (nowSec - 24*60*60) * 1000

	priceTo := (nowSec - int64(e.maxPeriod.Seconds())) * 1000
	if err := e.store.DeleteRange(ctx, key.String(), dayAgoMs, priceTo); err != nil {
		e.metrics.RecordStoreError("del")
		log.Error().Err(err).Str("market", key.String()).Msg("failed to trim price series")
		return
	}

	weekAgoMs := (nowSec - 7*24*60*60) * 1000
	if err := e.store.DeleteRange(ctx, key.SignalsKey(), weekAgoMs, dayAgoMs); err != nil {
		e.metrics.RecordStoreError("del")
		log.Error().Err(err).Str("key", key.SignalsKey()).Msg("failed to trim signal series")
	}
}

// TradesSeen returns and resets the trade counter. Called by the
// watcher once per reporting interval.
func (e *Engine) TradesSeen() int64 {
	return e.trades.Swap(0)
}

// MarketCount reports the number of tracked markets.
func (e *Engine) MarketCount() int {
	return int(e.marketCount.Load())
}
