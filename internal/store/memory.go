package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests. It mirrors the
// semantics the screener depends on: last-write-wins appends,
// retention relative to the newest sample, inclusive range queries,
// and TTL'd KV entries.
type MemoryStore struct {
	mu     sync.Mutex
	series map[string]*memorySeries
	kv     map[string]memoryKV

	// Now is the clock used for KV expiry. Tests override it to step
	// time.
	Now func() time.Time
}

type memorySeries struct {
	retention time.Duration
	samples   []Sample
}

type memoryKV struct {
	value     string
	expiresAt time.Time
	noExpiry  bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series: make(map[string]*memorySeries),
		kv:     make(map[string]memoryKV),
		Now:    time.Now,
	}
}

func (m *MemoryStore) CreateSeries(_ context.Context, key string, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[key]; ok {
		return nil
	}
	m.series[key] = &memorySeries{retention: retention}
	return nil
}

func (m *MemoryStore) Add(_ context.Context, key string, ts int64, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[key]
	if !ok {
		// The backing service auto-creates on append.
		s = &memorySeries{}
		m.series[key] = s
	}

	i := sort.Search(len(s.samples), func(i int) bool { return s.samples[i].Timestamp >= ts })
	if i < len(s.samples) && s.samples[i].Timestamp == ts {
		s.samples[i].Value = value
	} else {
		s.samples = append(s.samples, Sample{})
		copy(s.samples[i+1:], s.samples[i:])
		s.samples[i] = Sample{Timestamp: ts, Value: value}
	}

	if s.retention > 0 && len(s.samples) > 0 {
		newest := s.samples[len(s.samples)-1].Timestamp
		cutoff := newest - s.retention.Milliseconds()
		first := sort.Search(len(s.samples), func(i int) bool { return s.samples[i].Timestamp >= cutoff })
		s.samples = s.samples[first:]
	}
	return nil
}

func (m *MemoryStore) Range(_ context.Context, key string, from, to int64) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[key]
	if !ok {
		return nil, nil
	}
	var out []Sample
	for _, sample := range s.samples {
		if sample.Timestamp >= from && sample.Timestamp <= to {
			out = append(out, sample)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteRange(_ context.Context, key string, from, to int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[key]
	if !ok {
		return nil
	}
	kept := s.samples[:0]
	for _, sample := range s.samples {
		if sample.Timestamp < from || sample.Timestamp > to {
			kept = append(kept, sample)
		}
	}
	s.samples = kept
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.noExpiry && m.Now().After(entry.expiresAt) {
		delete(m.kv, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryKV{value: value}
	if ttl > 0 {
		entry.expiresAt = m.Now().Add(ttl)
	} else {
		entry.noExpiry = true
	}
	m.kv[key] = entry
	return nil
}

func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.kv[key]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.noExpiry {
		return 0, nil
	}
	remaining := entry.expiresAt.Sub(m.Now())
	if remaining <= 0 {
		delete(m.kv, key)
		return 0, ErrNotFound
	}
	return remaining, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.series[key]; ok {
		return true, nil
	}
	entry, ok := m.kv[key]
	if !ok {
		return false, nil
	}
	if !entry.noExpiry && m.Now().After(entry.expiresAt) {
		delete(m.kv, key)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// SeriesRetention reports the retention a series was created with.
// Test helper.
func (m *MemoryStore) SeriesRetention(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[key]
	if !ok {
		return 0, false
	}
	return s.retention, true
}

// SampleCount reports the number of stored samples in a series. Test
// helper.
func (m *MemoryStore) SampleCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[key]
	if !ok {
		return 0
	}
	return len(s.samples)
}
