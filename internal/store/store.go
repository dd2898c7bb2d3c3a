// Package store wraps the external time-series/KV service behind a
// typed operation set. The screener relies only on these semantics:
// idempotent series creation, last-write-wins appends, inclusive
// ascending range queries, range deletes, and a seconds-granularity
// TTL key-value space.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and TTL when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Sample is one (timestamp, value) point of a series. Timestamps are
// milliseconds since epoch.
type Sample struct {
	Timestamp int64
	Value     float64
}

// Store is the operation set required by the ingestion engine and the
// signal evaluator. All series writes resolve duplicate timestamps
// last-write-wins.
type Store interface {
	// CreateSeries creates a series with the given retention.
	// Creating a series that already exists is a no-op, not an error.
	CreateSeries(ctx context.Context, key string, retention time.Duration) error

	// Add appends (ts, value) to a series. At an existing timestamp
	// the later write wins.
	Add(ctx context.Context, key string, ts int64, value float64) error

	// Range returns the samples in [from, to], both inclusive, in
	// ascending timestamp order.
	Range(ctx context.Context, key string, from, to int64) ([]Sample, error)

	// DeleteRange removes the samples in [from, to], both inclusive.
	DeleteRange(ctx context.Context, key string, from, to int64) error

	// Get returns the value at a KV key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes a KV key with a TTL. A non-positive TTL is rejected
	// by the backing service; callers guard against it.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// TTL returns the remaining lifetime of a KV key. ErrNotFound when
	// the key is gone; zero when the key has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Exists reports whether a key (series or KV) is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity. Used as the startup reachability
	// check.
	Ping(ctx context.Context) error

	Close() error
}
