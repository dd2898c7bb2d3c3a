package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// duplicatePolicy is fixed for every series: the screener tolerates
// adapter-level races by letting the later write win.
const duplicatePolicy = "LAST"

// RedisStore implements Store on a Redis instance with the TimeSeries
// module loaded.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the service addressed by uri
// (redis://host:port form).
func NewRedisStore(uri string) (*RedisStore, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}

	// Connection pooling
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	// Timeouts
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	// Retry settings
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 500 * time.Millisecond

	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CreateSeries issues TS.CREATE with the retention and the
// last-write-wins duplicate policy. "already exists" replies are
// success.
func (s *RedisStore) CreateSeries(ctx context.Context, key string, retention time.Duration) error {
	opts := &redis.TSOptions{
		Retention:       int(retention.Milliseconds()),
		DuplicatePolicy: duplicatePolicy,
	}
	if err := s.client.TSCreateWithArgs(ctx, key, opts).Err(); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create series %s: %w", key, err)
	}
	return nil
}

// Add issues TS.ADD with ON_DUPLICATE last.
func (s *RedisStore) Add(ctx context.Context, key string, ts int64, value float64) error {
	opts := &redis.TSOptions{DuplicatePolicy: duplicatePolicy}
	if err := s.client.TSAddWithArgs(ctx, key, ts, value, opts).Err(); err != nil {
		return fmt.Errorf("add to series %s: %w", key, err)
	}
	return nil
}

// Range issues TS.RANGE; the server returns ascending, inclusive
// bounds.
func (s *RedisStore) Range(ctx context.Context, key string, from, to int64) ([]Sample, error) {
	points, err := s.client.TSRange(ctx, key, int(from), int(to)).Result()
	if err != nil {
		return nil, fmt.Errorf("range series %s: %w", key, err)
	}
	samples := make([]Sample, len(points))
	for i, p := range points {
		samples[i] = Sample{Timestamp: p.Timestamp, Value: p.Value}
	}
	return samples, nil
}

// DeleteRange issues TS.DEL over the inclusive window.
func (s *RedisStore) DeleteRange(ctx context.Context, key string, from, to int64) error {
	if err := s.client.TSDel(ctx, key, int(from), int(to)).Err(); err != nil {
		return fmt.Errorf("delete from series %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// TTL maps the service's sentinel replies: -2 (missing key) to
// ErrNotFound, -1 (no expiry) to zero.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	switch {
	case d == -2:
		return 0, ErrNotFound
	case d < 0:
		return 0, nil
	default:
		return d, nil
	}
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
