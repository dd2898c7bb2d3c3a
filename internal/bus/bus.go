package bus

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/metrics"
	"github.com/sawpanic/pumpwatch/internal/models"
)

// DefaultCapacity bounds the trade bus. Large enough that drops only
// happen when the ingestion engine is genuinely behind; depth-based
// back-pressure kicks in long before the bound is reached.
const DefaultCapacity = 100_000

// Bus is the in-process multi-producer single-consumer queue carrying
// normalised trade batches from the venue adapters to the ingestion
// engine. Publishing never blocks: a full bus drops the batch with an
// advisory warning.
type Bus struct {
	ch      chan models.TradeBatch
	metrics *metrics.Registry
}

// New creates a bus with the given capacity (DefaultCapacity when
// size <= 0).
func New(size int, m *metrics.Registry) *Bus {
	if size <= 0 {
		size = DefaultCapacity
	}
	return &Bus{
		ch:      make(chan models.TradeBatch, size),
		metrics: m,
	}
}

// Publish enqueues a batch without blocking. Returns false when the
// bus is full and the batch was dropped.
func (b *Bus) Publish(batch models.TradeBatch) bool {
	select {
	case b.ch <- batch:
		b.metrics.RecordBusPublish()
		return true
	default:
		b.metrics.RecordBusDrop()
		log.Warn().
			Str("exchange", batch.Exchange).
			Int("trades", len(batch.Data)).
			Msg("Trade bus full, dropping batch")
		return false
	}
}

// Recv blocks until a batch is available or ctx is done.
func (b *Bus) Recv(ctx context.Context) (models.TradeBatch, error) {
	select {
	case batch := <-b.ch:
		return batch, nil
	case <-ctx.Done():
		return models.TradeBatch{}, ctx.Err()
	}
}

// Depth reports the number of buffered batches. The ingestion engine
// derives its back-pressure multiplier from this.
func (b *Bus) Depth() int {
	return len(b.ch)
}
