package screener

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/models"
)

// evalQueueCap bounds pending evaluation jobs. The per-market check_ts
// guard keeps submissions rare, so the queue only fills when the store
// itself is slow.
const evalQueueCap = 256

// Pool fans evaluation jobs out to a fixed set of workers. Submission
// never blocks the ingestion engine.
type Pool struct {
	evaluator *Evaluator
	jobs      chan models.MarketKey
	workers   int
}

// NewPool sizes the worker set. workers <= 0 falls back to one.
func NewPool(ev *Evaluator, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		evaluator: ev,
		jobs:      make(chan models.MarketKey, evalQueueCap),
		workers:   workers,
	}
}

// Submit queues one market for evaluation. Returns false when the
// queue is full and the job was dropped.
func (p *Pool) Submit(key models.MarketKey) bool {
	select {
	case p.jobs <- key:
		return true
	default:
		log.Warn().Str("market", key.String()).Msg("evaluation queue full, dropping job")
		return false
	}
}

// Run evaluates submitted markets on the pool's workers until ctx is
// done.
func (p *Pool) Run(ctx context.Context) error {
	log.Info().Int("workers", p.workers).Msg("evaluation pool started")

	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case key := <-p.jobs:
					p.evaluator.Evaluate(ctx, key)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}
