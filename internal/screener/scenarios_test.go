package screener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pumpwatch/internal/bus"
	"github.com/sawpanic/pumpwatch/internal/config"
	"github.com/sawpanic/pumpwatch/internal/metrics"
	"github.com/sawpanic/pumpwatch/internal/models"
	"github.com/sawpanic/pumpwatch/internal/notify"
	"github.com/sawpanic/pumpwatch/internal/store"
)

// testClock is a manually advanced clock shared by the engine, the
// evaluator and the memory store.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingNotifier captures alerts instead of delivering them.
type recordingNotifier struct {
	mu        sync.Mutex
	announces []notify.Signal
	updates   []notify.Signal
}

func (r *recordingNotifier) Announce(_ context.Context, sig notify.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announces = append(r.announces, sig)
}

func (r *recordingNotifier) Update(_ context.Context, sig notify.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, sig)
}

func (r *recordingNotifier) counts() (announces, updates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.announces), len(r.updates)
}

// harness wires engine, evaluator, pool and store around a shared
// test clock. Batches are processed synchronously: feed runs the
// engine's batch path and then drains every queued evaluation job on
// the calling goroutine.
type harness struct {
	clock    *testClock
	store    *store.MemoryStore
	bus      *bus.Bus
	pool     *Pool
	engine   *Engine
	eval     *Evaluator
	notifier *recordingNotifier
	metrics  *metrics.Registry
}

func newHarness(t *testing.T, lookbacks []config.Lookback) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Lookbacks = lookbacks
	cfg.BusCapacity = 4096

	clock := newTestClock(time.Unix(1700000000, 0))

	st := store.NewMemoryStore()
	st.Now = clock.now

	m := metrics.NewRegistry(prometheus.NewRegistry())
	b := bus.New(cfg.BusCapacity, m)
	notifier := &recordingNotifier{}

	eval := NewEvaluator(cfg, st, notifier, m)
	eval.now = clock.now

	pool := NewPool(eval, cfg.EvalWorkers)
	engine := NewEngine(cfg, b, st, pool, m)
	engine.now = clock.now

	return &harness{
		clock:    clock,
		store:    st,
		bus:      b,
		pool:     pool,
		engine:   engine,
		eval:     eval,
		notifier: notifier,
		metrics:  m,
	}
}

func defaultLookbacks() []config.Lookback {
	return []config.Lookback{{PeriodSec: 60, Threshold: 2.0}}
}

func (h *harness) feed(exchange string, trades ...models.Trade) {
	h.engine.processBatch(context.Background(), models.TradeBatch{
		Exchange: exchange,
		Data:     trades,
	})
	h.drainJobs()
}

func (h *harness) drainJobs() {
	for {
		select {
		case key := <-h.pool.jobs:
			h.eval.Evaluate(context.Background(), key)
		default:
			return
		}
	}
}

// tradesAt builds one trade per price, spaced by step starting at
// base.
func tradesAt(symbol string, base time.Time, step time.Duration, prices ...float64) []models.Trade {
	out := make([]models.Trade, len(prices))
	for i, p := range prices {
		out[i] = models.Trade{
			Symbol:    symbol,
			Price:     p,
			Timestamp: base.Add(time.Duration(i) * step).UnixMilli(),
		}
	}
	return out
}

func TestScenarioNewUptrendAlert(t *testing.T) {
	h := newHarness(t, defaultLookbacks())
	base := h.clock.now()
	key := models.NewMarketKey("bybit", "BTCUSDT")

	trades := tradesAt("BTCUSDT", base, time.Second,
		100, 100.2, 100.5, 100.7, 101.0, 101.5, 101.9, 102.2, 102.3, 102.5)
	h.clock.advance(10 * time.Second)
	h.feed("bybit", trades...)

	announces, updates := h.notifier.counts()
	require.Equal(t, 1, announces)
	assert.Equal(t, 0, updates)

	sig := h.notifier.announces[0]
	assert.Equal(t, "bybit", sig.Exchange)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.True(t, sig.Uptrend)
	assert.Equal(t, 60, sig.PeriodSec)
	assert.InDelta(t, 2.5, sig.Percent, 1e-9)
	assert.InDelta(t, 100.0, sig.PriceMin, 1e-9)
	assert.InDelta(t, 102.5, sig.PriceMax, 1e-9)
	assert.Equal(t, 0, sig.Signals24)

	// Latch armed at the reported percent for SIGNAL_TIMEOUT.
	latch, err := h.store.Get(context.Background(), key.LatchKey(60))
	require.NoError(t, err)
	assert.Equal(t, "2.5", latch)
	ttl, err := h.store.TTL(context.Background(), key.LatchKey(60))
	require.NoError(t, err)
	assert.InDelta(t, 120, ttl.Seconds(), 1)

	// One signal event recorded.
	assert.Equal(t, 1, h.store.SampleCount(key.SignalsKey()))
	// All ten distinct prices were persisted.
	assert.Equal(t, 10, h.store.SampleCount(key.String()))
}

func TestScenarioUpdateAlert(t *testing.T) {
	h := newHarness(t, defaultLookbacks())
	base := h.clock.now()
	key := models.NewMarketKey("bybit", "BTCUSDT")

	h.clock.advance(10 * time.Second)
	h.feed("bybit", tradesAt("BTCUSDT", base, time.Second,
		100, 100.2, 100.5, 100.7, 101.0, 101.5, 101.9, 102.2, 102.3, 102.5)...)

	h.clock.advance(3 * time.Second)
	h.feed("bybit", tradesAt("BTCUSDT", base.Add(10*time.Second), time.Second,
		102.6, 103.0, 103.3)...)

	announces, updates := h.notifier.counts()
	assert.Equal(t, 1, announces)
	require.Equal(t, 1, updates)

	sig := h.notifier.updates[0]
	assert.True(t, sig.Uptrend)
	assert.InDelta(t, 3.3, sig.Percent, 1e-9)
	assert.Equal(t, 1, sig.Signals24)

	// The update refreshed the latch but added no signal event.
	latch, err := h.store.Get(context.Background(), key.LatchKey(60))
	require.NoError(t, err)
	assert.Equal(t, "3.3", latch)
	assert.Equal(t, 1, h.store.SampleCount(key.SignalsKey()))

	// Remaining lifetime carried over, not reset to SIGNAL_TIMEOUT.
	ttl, err := h.store.TTL(context.Background(), key.LatchKey(60))
	require.NoError(t, err)
	assert.InDelta(t, 117, ttl.Seconds(), 1.5)
}

func TestScenarioFlatPricesSuppressed(t *testing.T) {
	h := newHarness(t, defaultLookbacks())
	base := h.clock.now()
	key := models.NewMarketKey("bybit", "BTCUSDT")

	h.clock.advance(10 * time.Second)
	h.feed("bybit", tradesAt("BTCUSDT", base, time.Second,
		100, 100.2, 100.5, 100.7, 101.0, 101.5, 101.9, 102.2, 102.3, 102.5)...)
	h.clock.advance(3 * time.Second)
	h.feed("bybit", tradesAt("BTCUSDT", base.Add(10*time.Second), time.Second,
		102.6, 103.0, 103.3)...)

	savedBefore := h.engine.markets[key].savedTs

	h.clock.advance(3 * time.Second)
	h.feed("bybit", tradesAt("BTCUSDT", base.Add(13*time.Second), time.Second,
		103.3, 103.3, 103.3)...)

	// Equal-price dedupe: nothing persisted, saved_ts frozen.
	assert.Equal(t, savedBefore, h.engine.markets[key].savedTs)
	assert.Equal(t, 13, h.store.SampleCount(key.String()))

	// No further alerts: the percent did not exceed the latch.
	announces, updates := h.notifier.counts()
	assert.Equal(t, 1, announces)
	assert.Equal(t, 1, updates)
}

func TestScenarioRetentionTrim(t *testing.T) {
	h := newHarness(t, defaultLookbacks())
	key := models.NewMarketKey("bybit", "BTCUSDT")
	ctx := context.Background()

	now := h.clock.now()
	nowSec := now.Unix()

	// Synthetic points across the last 25 hours, appended without a
	// series retention so only the trim can remove them.
	stamps := []int64{
		(nowSec - 25*60*60) * 1000, // older than the trim window
		(nowSec - 24*60*60) * 1000, // window lower bound
		(nowSec - 2*60*60) * 1000,  // inside the window
		(nowSec - 60) * 1000,       // window upper bound
		(nowSec - 59) * 1000,       // younger than max_period
		nowSec * 1000,
	}
	for _, ts := range stamps {
		require.NoError(t, h.store.Add(ctx, key.String(), ts, 1.0))
	}

	// Signal events: one inside the week-deep trim window, one younger
	// than a day, one older than a week.
	signalStamps := []int64{
		(nowSec - 8*24*60*60) * 1000,
		(nowSec - 6*24*60*60) * 1000,
		(nowSec - 12*60*60) * 1000,
	}
	for _, ts := range signalStamps {
		require.NoError(t, h.store.Add(ctx, key.SignalsKey(), ts, 1))
	}

	h.engine.markets[key] = &marketState{}
	h.engine.maybeTrim(ctx, key)

	left, err := h.store.Range(ctx, key.String(), 0, nowSec*1000)
	require.NoError(t, err)
	got := make([]int64, len(left))
	for i, s := range left {
		got[i] = s.Timestamp
	}

	want := []int64{
		(nowSec - 25*60*60) * 1000,
		(nowSec - 59) * 1000,
		nowSec * 1000,
	}
	assert.Equal(t, want, got)

	signalsLeft, err := h.store.Range(ctx, key.SignalsKey(), 0, nowSec*1000)
	require.NoError(t, err)
	require.Len(t, signalsLeft, 2)
	assert.Equal(t, (nowSec-8*24*60*60)*1000, signalsLeft[0].Timestamp)
	assert.Equal(t, (nowSec-12*60*60)*1000, signalsLeft[1].Timestamp)
}

func TestScenarioBackpressureWidensDedupe(t *testing.T) {
	h := newHarness(t, defaultLookbacks())
	key := models.NewMarketKey("bybit", "BTCUSDT")

	// Preload the bus to depth 1500: the engine derives M = 0.3s.
	for i := 0; i < 1500; i++ {
		require.True(t, h.bus.Publish(models.TradeBatch{Exchange: "bybit"}))
	}

	base := h.clock.now()
	trades := tradesAt("BTCUSDT", base, 100*time.Millisecond, 100, 100.1, 100.2)
	h.clock.advance(250 * time.Millisecond)
	h.feed("bybit", trades...)

	// Only the first trade beat the widened window.
	assert.Equal(t, 1, h.store.SampleCount(key.String()))
	assert.Equal(t, trades[0].Timestamp, h.engine.markets[key].savedTs)

	skipped, err := h.metrics.TradesSkipped.GetMetricWithLabelValues(metrics.SkipBackpressure)
	require.NoError(t, err)
	assert.Equal(t, 2.0, metricValue(t, skipped))
}

// metricValue reads a counter or gauge back through the wire model.
func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb io_prometheus_client.Metric
	require.NoError(t, m.Write(&pb))
	if c := pb.GetCounter(); c != nil {
		return c.GetValue()
	}
	return pb.GetGauge().GetValue()
}
