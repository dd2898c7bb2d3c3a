// Package app assembles the screener process: store, trade bus,
// venue adapters, evaluation pipeline, notifier and monitor server,
// and supervises their lifecycles under one context.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/bus"
	"github.com/sawpanic/pumpwatch/internal/config"
	"github.com/sawpanic/pumpwatch/internal/exchange"
	"github.com/sawpanic/pumpwatch/internal/metrics"
	"github.com/sawpanic/pumpwatch/internal/monitor"
	"github.com/sawpanic/pumpwatch/internal/notify"
	"github.com/sawpanic/pumpwatch/internal/screener"
	"github.com/sawpanic/pumpwatch/internal/store"
)

const startupPingTimeout = 5 * time.Second

// component is one supervised long-running part of the process.
type component struct {
	name string
	run  func(context.Context) error
}

// Run connects the backing store and runs the full process until ctx
// is cancelled or a component fails.
func Run(ctx context.Context, cfg *config.Config) error {
	st, err := store.NewRedisStore(cfg.RedisURI)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}

	m := metrics.NewRegistry(prometheus.DefaultRegisterer)
	return runWith(ctx, cfg, st, m)
}

// runWith wires the components onto the given store and supervises
// them. Split from Run so tests can substitute the store and metrics
// registry.
func runWith(ctx context.Context, cfg *config.Config, st store.Store, m *metrics.Registry) error {
	log.Info().
		Strs("exchanges", cfg.Exchanges).
		Int("lookbacks", len(cfg.Lookbacks)).
		Int("chats", len(cfg.TargetIDs)).
		Msg("pumpwatch starting")

	b := bus.New(cfg.BusCapacity, m)
	notifier := notify.NewTelegram(notify.Options{
		Token:   cfg.BotAPIKey,
		ChatIDs: cfg.TargetIDs,
		Debug:   cfg.Debug,
	}, st, m)

	evaluator := screener.NewEvaluator(cfg, st, notifier, m)
	pool := screener.NewPool(evaluator, cfg.EvalWorkers)
	engine := screener.NewEngine(cfg, b, st, pool, m)
	watcher := screener.NewWatcher(engine, b, m)

	components := []component{
		{name: "evaluation pool", run: pool.Run},
		{name: "screener engine", run: engine.Run},
		{name: "state watcher", run: watcher.Run},
	}

	discovery := exchange.NewDiscoverer()
	venues := make([]monitor.VenueStatus, 0, len(cfg.Exchanges))
	for _, name := range cfg.Exchanges {
		dialect, err := exchange.NewDialect(name, discovery)
		if err != nil {
			return fmt.Errorf("exchange %s: %w", name, err)
		}
		adapter := exchange.NewAdapter(dialect, b, m)
		venues = append(venues, adapter)
		components = append(components, component{
			name: name + " adapter",
			run:  adapter.Run,
		})
	}

	if cfg.MonitorAddr != "" {
		server := monitor.NewServer(cfg.MonitorAddr, cfg.Environment, m, venues)
		components = append(components, component{
			name: "monitor server",
			run:  server.Run,
		})
	}

	return supervise(ctx, components)
}

// supervise runs every component until the context is cancelled or
// one of them fails. The first failure stops the rest; a clean
// context shutdown returns nil.
func supervise(ctx context.Context, components []component) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(components))
	var wg sync.WaitGroup
	for _, c := range components {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			if err := c.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", c.name).Msg("component stopped")
				errCh <- fmt.Errorf("%s: %w", c.name, err)
			}
		}(c)
	}

	var err error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err = <-errCh:
	}

	cancel()
	wg.Wait()
	return err
}
