package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/pumpwatch/internal/net/ratelimit"
)

// Discoverer performs the one-shot instruments calls venues require
// before subscribing. Each venue gets its own circuit breaker; all
// calls share one tuned HTTP client and a per-host rate limit.
type Discoverer struct {
	client  *http.Client
	limiter *ratelimit.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDiscoverer creates a discoverer with the default client tuning.
func NewDiscoverer() *Discoverer {
	return &Discoverer{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  ratelimit.NewLimiter(2.0, 2),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *Discoverer) breaker(venue string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.breakers[venue]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        venue,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("exchange", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("discovery circuit breaker state changed")
		},
	})
	d.breakers[venue] = b
	return b
}

// GetJSON fetches rawURL through the venue's circuit breaker and
// decodes the response body into out.
func (d *Discoverer) GetJSON(ctx context.Context, venue, rawURL string, out interface{}) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse discovery url: %w", err)
	}
	if err := d.limiter.Wait(ctx, u.Host); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err = d.breaker(venue).Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, body)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	return err
}
