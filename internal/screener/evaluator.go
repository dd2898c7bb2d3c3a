package screener

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/config"
	"github.com/sawpanic/pumpwatch/internal/metrics"
	"github.com/sawpanic/pumpwatch/internal/models"
	"github.com/sawpanic/pumpwatch/internal/notify"
	"github.com/sawpanic/pumpwatch/internal/store"
)

// Evaluator measures price movement over the configured look-backs
// and drives the per-(market, look-back) signal state machine. It
// reads prices, latches and signal counts exclusively through the
// store, so any worker can evaluate any market.
type Evaluator struct {
	store    store.Store
	notifier notify.Notifier
	metrics  *metrics.Registry

	lookbacks     []config.Lookback
	priceSubsets  int
	signalTimeout time.Duration

	// now is the evaluation clock. Tests pin it.
	now func() time.Time
}

// NewEvaluator builds the evaluator from the configured look-backs.
func NewEvaluator(cfg *config.Config, st store.Store, n notify.Notifier, m *metrics.Registry) *Evaluator {
	return &Evaluator{
		store:         st,
		notifier:      n,
		metrics:       m,
		lookbacks:     cfg.Lookbacks,
		priceSubsets:  cfg.PriceSubsets,
		signalTimeout: cfg.SignalTimeout(),
		now:           time.Now,
	}
}

// Evaluate runs every configured look-back for one market.
func (ev *Evaluator) Evaluate(ctx context.Context, key models.MarketKey) {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		ev.metrics.ObserveEval(d)
		log.Debug().Str("market", key.String()).Dur("took", d).Msg("market evaluated")
	}()

	for _, lb := range ev.lookbacks {
		ev.evaluateLookback(ctx, key, lb)
	}
}

func (ev *Evaluator) evaluateLookback(ctx context.Context, key models.MarketKey, lb config.Lookback) {
	now := ev.now()
	from := (now.Unix() - int64(lb.PeriodSec)) * 1000
	to := now.UnixMilli()

	samples, err := ev.store.Range(ctx, key.String(), from, to)
	if err != nil {
		ev.metrics.RecordStoreError("range")
		log.Error().Err(err).Str("market", key.String()).Msg("failed to read price window")
		return
	}
	if len(samples) < ev.priceSubsets {
		return
	}

	prices := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.Value
	}

	minPrice, maxPrice := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p < minPrice {
			minPrice = p
		}
		if p > maxPrice {
			maxPrice = p
		}
	}
	if minPrice == 0 {
		return
	}

	pct := math.Round(((maxPrice-minPrice)/minPrice)*100*10) / 10
	uptrend := isUptrend(prices, ev.priceSubsets)

	latchKey := key.LatchKey(lb.PeriodSec)
	latched := false
	var latchVal float64

	raw, err := ev.store.Get(ctx, latchKey)
	switch {
	case err == nil:
		v, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			log.Error().Err(perr).Str("key", latchKey).Str("value", raw).Msg("malformed signal latch")
			return
		}
		latched, latchVal = true, v
	case errors.Is(err, store.ErrNotFound):
		// Armed: no alert currently active for this pair.
	default:
		ev.metrics.RecordStoreError("get")
		log.Error().Err(err).Str("key", latchKey).Msg("failed to read signal latch")
		return
	}

	points, err := ev.store.Range(ctx, key.SignalsKey(), now.Add(-24*time.Hour).UnixMilli(), to)
	if err != nil {
		ev.metrics.RecordStoreError("range")
		log.Error().Err(err).Str("key", key.SignalsKey()).Msg("failed to count signals")
		return
	}

	if pct <= lb.Threshold {
		return
	}

	exchange, symbol := key.Split()
	sig := notify.Signal{
		Exchange:  exchange,
		Symbol:    symbol,
		Uptrend:   uptrend,
		PeriodSec: lb.PeriodSec,
		Percent:   pct,
		PriceMin:  minPrice,
		PriceMax:  maxPrice,
		Signals24: len(points),
	}

	if !latched {
		ev.emitNew(ctx, key, latchKey, sig, to)
		return
	}
	if pct > latchVal {
		ev.emitUpdate(ctx, key, latchKey, sig, lb)
	}
}

// emitNew announces a fresh alert, arms the latch for SIGNAL_TIMEOUT,
// and records the event in the signal series. Strictly in that order:
// the announcement must not depend on the store writes.
func (ev *Evaluator) emitNew(ctx context.Context, key models.MarketKey, latchKey string, sig notify.Signal, nowMs int64) {
	ev.notifier.Announce(ctx, sig)
	ev.metrics.RecordSignal(sig.Exchange, string(models.DirectionFromUptrend(sig.Uptrend)), "new")

	if err := ev.store.Set(ctx, latchKey, formatLatch(sig.Percent), ev.signalTimeout); err != nil {
		ev.metrics.RecordStoreError("set")
		log.Error().Err(err).Str("key", latchKey).Msg("failed to set signal latch")
		return
	}
	if err := ev.store.Add(ctx, key.SignalsKey(), nowMs, 1); err != nil {
		ev.metrics.RecordStoreError("add")
		log.Error().Err(err).Str("key", key.SignalsKey()).Msg("failed to record signal event")
	}
}

// emitUpdate refreshes the latch with its remaining lifetime and edits
// the delivered message. Updates never touch the signal series. When
// the latch vanished between read and refresh the update is dropped;
// the next evaluation re-arms and announces fresh.
func (ev *Evaluator) emitUpdate(ctx context.Context, key models.MarketKey, latchKey string, sig notify.Signal, lb config.Lookback) {
	ttl, err := ev.store.TTL(ctx, latchKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Debug().Str("key", latchKey).Msg("signal latch expired before refresh")
		return
	case err != nil:
		ev.metrics.RecordStoreError("ttl")
		ttl = fallbackLatchTTL(lb.PeriodSec)
	case ttl <= 0:
		log.Debug().Str("key", latchKey).Msg("signal latch has no remaining lifetime")
		return
	}

	if err := ev.store.Set(ctx, latchKey, formatLatch(sig.Percent), ttl); err != nil {
		ev.metrics.RecordStoreError("set")
		log.Error().Err(err).Str("key", latchKey).Msg("failed to refresh signal latch")
		return
	}

	ev.notifier.Update(ctx, sig)
	ev.metrics.RecordSignal(sig.Exchange, string(models.DirectionFromUptrend(sig.Uptrend)), "update")
}

// fallbackLatchTTL applies when the remaining lifetime is unreadable:
// the full period for short look-backs, half of it from five minutes
// up.
func fallbackLatchTTL(periodSec int) time.Duration {
	if periodSec < 5*60 {
		return time.Duration(periodSec) * time.Second
	}
	return time.Duration(periodSec) * time.Second / 2
}

func formatLatch(pct float64) string {
	return strconv.FormatFloat(pct, 'f', -1, 64)
}

// isUptrend partitions prices into n contiguous equal-sized groups
// (trailing remainder discarded), takes each group's arithmetic mean,
// and counts rises vs falls between adjacent means. More rises than
// falls is an uptrend; ties are not.
func isUptrend(prices []float64, n int) bool {
	size := len(prices) / n
	if size == 0 {
		return false
	}

	means := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for _, p := range prices[i*size : (i+1)*size] {
			sum += p
		}
		means[i] = sum / float64(size)
	}

	up, down := 0, 0
	for i := 1; i < n; i++ {
		switch {
		case means[i] > means[i-1]:
			up++
		case means[i] < means[i-1]:
			down++
		}
	}
	return up > down
}
