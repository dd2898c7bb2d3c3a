package screener

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/bus"
	"github.com/sawpanic/pumpwatch/internal/metrics"
)

// watchInterval is the cadence of the state report.
const watchInterval = 10 * time.Second

// Watcher periodically logs one screener state line and refreshes the
// throughput gauges.
type Watcher struct {
	engine   *Engine
	bus      *bus.Bus
	metrics  *metrics.Registry
	interval time.Duration
}

// NewWatcher builds the watcher over the engine's counters.
func NewWatcher(engine *Engine, b *bus.Bus, m *metrics.Registry) *Watcher {
	return &Watcher{
		engine:   engine,
		bus:      b,
		metrics:  m,
		interval: watchInterval,
	}
}

// Run reports until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.report()
		}
	}
}

// report emits one state line and resets the trade counter.
func (w *Watcher) report() {
	depth := w.bus.Depth()
	rate := float64(w.engine.TradesSeen()) / w.interval.Seconds()
	markets := w.engine.MarketCount()

	w.metrics.BusDepth.Set(float64(depth))
	w.metrics.TradeRate.Set(rate)
	w.metrics.MarketsTracked.Set(float64(markets))

	log.Info().
		Int("bus_depth", depth).
		Float64("trades_per_sec", rate).
		Int("markets", markets).
		Msg("screener state")
}
