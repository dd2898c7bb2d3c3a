// Package ratelimit provides per-host token-bucket limiting for the
// outbound HTTP clients: venue discovery REST calls and the Telegram
// Bot API.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out token buckets keyed by host. Buckets are created
// lazily on first use and share the limiter's rps/burst settings.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
	rps     float64
	burst   int
}

// NewLimiter creates a limiter allowing rps requests per second with
// the given burst capacity per host.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rps,
		burst:   burst,
	}
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[host]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	b = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.buckets[host] = b
	return b
}

// Allow reports whether a request to host may proceed right now.
func (l *Limiter) Allow(host string) bool {
	return l.bucket(host).Allow()
}

// Wait blocks until a request to host is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.bucket(host).Wait(ctx)
}

// SetRPS retunes every existing bucket; new buckets pick up the new
// rate as well.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rps = rps
	for _, b := range l.buckets {
		b.SetLimit(rate.Limit(rps))
	}
}

// Stats reports the current state of every host bucket.
func (l *Limiter) Stats() map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Stats, len(l.buckets))
	for host, b := range l.buckets {
		r := b.Reserve()
		delay := r.Delay()
		r.Cancel()

		out[host] = Stats{
			Host:   host,
			RPS:    float64(b.Limit()),
			Burst:  b.Burst(),
			Tokens: b.Tokens(),
			Delay:  delay,
		}
	}
	return out
}

// Reset drops all buckets, refilling every host to full burst.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buckets = make(map[string]*rate.Limiter)
}

// Stats describes one host bucket.
type Stats struct {
	Host   string        `json:"host"`
	RPS    float64       `json:"rps"`
	Burst  int           `json:"burst"`
	Tokens float64       `json:"tokens"`
	Delay  time.Duration `json:"delay"`
}

// Throttled reports whether the next request would have to wait.
func (s Stats) Throttled() bool {
	return s.Delay > 0
}
