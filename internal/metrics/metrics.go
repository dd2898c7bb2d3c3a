package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// Exchanges enumerates the venue labels used by the per-exchange
// metrics. Kept in one place so derived gauges can sum across them.
var Exchanges = []string{"binance", "bybit", "gate", "htx", "okx"}

// Skip reasons recorded by the ingestion engine's dedupe rule.
const (
	SkipSamePrice    = "same_price"
	SkipSameTs       = "same_ts"
	SkipBackpressure = "backpressure"
)

// Registry holds all Prometheus metrics for pumpwatch.
type Registry struct {
	// Ingestion metrics
	TradesReceived  *prometheus.CounterVec
	TradesPersisted *prometheus.CounterVec
	TradesSkipped   *prometheus.CounterVec
	DedupeRatio     prometheus.Gauge

	// Trade bus metrics
	BusPublished prometheus.Counter
	BusDropped   prometheus.Counter
	BusDepth     prometheus.Gauge

	// Adapter metrics
	WSFrames         *prometheus.CounterVec
	WSReconnects     *prometheus.CounterVec
	DiscoveryCalls   *prometheus.CounterVec
	DiscoverySymbols *prometheus.GaugeVec

	// Signal metrics
	SignalsEmitted *prometheus.CounterVec
	EvalDuration   prometheus.Histogram

	// Notifier metrics
	NotifyRequests *prometheus.CounterVec
	NotifyDuration prometheus.Histogram

	// Store metrics
	StoreErrors *prometheus.CounterVec

	// Watcher gauges
	MarketsTracked prometheus.Gauge
	TradeRate      prometheus.Gauge

	registerer prometheus.Registerer
}

// NewRegistry creates the pumpwatch metrics and registers them on the
// given registerer. Pass prometheus.DefaultRegisterer in the app and a
// fresh prometheus.NewRegistry() in tests.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		registerer: reg,

		TradesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpwatch_trades_received_total",
				Help: "Trade prints received from venue adapters",
			},
			[]string{"exchange"},
		),

		TradesPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpwatch_trades_persisted_total",
				Help: "Trade prints written to the price series",
			},
			[]string{"exchange"},
		),

		TradesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpwatch_trades_skipped_total",
				Help: "Trade prints suppressed by the dedupe rule",
			},
			[]string{"reason"},
		),

		DedupeRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pumpwatch_dedupe_ratio",
				Help: "Fraction of received trades suppressed before the store (0.0 to 1.0)",
			},
		),

		BusPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pumpwatch_bus_published_total",
				Help: "Trade batches accepted by the trade bus",
			},
		),

		BusDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pumpwatch_bus_dropped_total",
				Help: "Trade batches dropped because the trade bus was full",
			},
		),

		BusDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pumpwatch_bus_depth",
				Help: "Current number of batches buffered on the trade bus",
			},
		),

		WSFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpwatch_ws_frames_total",
				Help: "WebSocket frames received by venue",
			},
			[]string{"exchange"},
		),

		WSReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpwatch_ws_reconnects_total",
				Help: "WebSocket reconnection attempts by venue",
			},
			[]string{"exchange"},
		),

		DiscoveryCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpwatch_discovery_calls_total",
				Help: "Instrument discovery calls by venue and outcome",
			},
			[]string{"exchange", "status"},
		),

		DiscoverySymbols: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pumpwatch_discovery_symbols",
				Help: "Qualifying symbols returned by the last discovery call",
			},
			[]string{"exchange"},
		),

		SignalsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpwatch_signals_total",
				Help: "Alerts emitted by kind (new or update) and direction",
			},
			[]string{"exchange", "direction", "kind"},
		),

		EvalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pumpwatch_eval_duration_seconds",
				Help:    "Duration of one signal evaluation across all look-backs",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
		),

		NotifyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpwatch_notify_requests_total",
				Help: "Notification sink requests by method and HTTP status",
			},
			[]string{"method", "status"},
		),

		NotifyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pumpwatch_notify_duration_seconds",
				Help:    "Round-trip duration of one notification sink request",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),

		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpwatch_store_errors_total",
				Help: "Store operation failures by operation",
			},
			[]string{"op"},
		),

		MarketsTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pumpwatch_markets_tracked",
				Help: "Markets with in-memory state",
			},
		),

		TradeRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pumpwatch_trades_per_second",
				Help: "Trade throughput over the last watcher interval",
			},
		),
	}

	reg.MustRegister(
		r.TradesReceived,
		r.TradesPersisted,
		r.TradesSkipped,
		r.DedupeRatio,
		r.BusPublished,
		r.BusDropped,
		r.BusDepth,
		r.WSFrames,
		r.WSReconnects,
		r.DiscoveryCalls,
		r.DiscoverySymbols,
		r.SignalsEmitted,
		r.EvalDuration,
		r.NotifyRequests,
		r.NotifyDuration,
		r.StoreErrors,
		r.MarketsTracked,
		r.TradeRate,
	)

	return r
}

// RecordTradeReceived counts one trade print from a venue.
func (r *Registry) RecordTradeReceived(exchange string) {
	r.TradesReceived.WithLabelValues(exchange).Inc()
}

// RecordTradePersisted counts one price written to the store.
func (r *Registry) RecordTradePersisted(exchange string) {
	r.TradesPersisted.WithLabelValues(exchange).Inc()
	r.updateDedupeRatio()
}

// RecordTradeSkipped counts one trade suppressed by the dedupe rule.
func (r *Registry) RecordTradeSkipped(reason string) {
	r.TradesSkipped.WithLabelValues(reason).Inc()
	r.updateDedupeRatio()
}

// RecordBusPublish counts one accepted batch.
func (r *Registry) RecordBusPublish() {
	r.BusPublished.Inc()
}

// RecordBusDrop counts one batch dropped on a full bus.
func (r *Registry) RecordBusDrop() {
	r.BusDropped.Inc()
}

// RecordFrame counts one received WebSocket frame.
func (r *Registry) RecordFrame(exchange string) {
	r.WSFrames.WithLabelValues(exchange).Inc()
}

// RecordReconnect counts one reconnection attempt.
func (r *Registry) RecordReconnect(exchange string) {
	r.WSReconnects.WithLabelValues(exchange).Inc()
}

// RecordDiscovery records one discovery call and, on success, the
// number of qualifying symbols it returned.
func (r *Registry) RecordDiscovery(exchange, status string, symbols int) {
	r.DiscoveryCalls.WithLabelValues(exchange, status).Inc()
	if status == "ok" {
		r.DiscoverySymbols.WithLabelValues(exchange).Set(float64(symbols))
	}
}

// RecordSignal counts one emitted alert.
func (r *Registry) RecordSignal(exchange, direction, kind string) {
	r.SignalsEmitted.WithLabelValues(exchange, direction, kind).Inc()
}

// ObserveEval records the duration of one evaluation job.
func (r *Registry) ObserveEval(d time.Duration) {
	r.EvalDuration.Observe(d.Seconds())
}

// RecordNotify counts one notification request by outcome.
func (r *Registry) RecordNotify(method, status string) {
	r.NotifyRequests.WithLabelValues(method, status).Inc()
}

// ObserveNotify records one notification request round trip.
func (r *Registry) ObserveNotify(d time.Duration) {
	r.NotifyDuration.Observe(d.Seconds())
}

// RecordStoreError counts one failed store operation.
func (r *Registry) RecordStoreError(op string) {
	r.StoreErrors.WithLabelValues(op).Inc()
}

// updateDedupeRatio recomputes the suppressed fraction from the
// counter values.
func (r *Registry) updateDedupeRatio() {
	var m io_prometheus_client.Metric

	persisted := 0.0
	for _, exchange := range Exchanges {
		if c, err := r.TradesPersisted.GetMetricWithLabelValues(exchange); err == nil {
			if err := c.Write(&m); err == nil {
				persisted += m.GetCounter().GetValue()
			}
		}
	}

	skipped := 0.0
	for _, reason := range []string{SkipSamePrice, SkipSameTs, SkipBackpressure} {
		if c, err := r.TradesSkipped.GetMetricWithLabelValues(reason); err == nil {
			if err := c.Write(&m); err == nil {
				skipped += m.GetCounter().GetValue()
			}
		}
	}

	if total := persisted + skipped; total > 0 {
		r.DedupeRatio.Set(skipped / total)
	}
}

// Handler returns the HTTP handler serving the registry these metrics
// were registered on. Falls back to the default registry when the
// registerer cannot gather.
func (r *Registry) Handler() http.Handler {
	if g, ok := r.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
