package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pumpwatch/internal/net/ratelimit"
)

// newTestDiscoverer widens the rate limit so tests against local
// servers do not sleep.
func newTestDiscoverer() *Discoverer {
	d := NewDiscoverer()
	d.limiter = ratelimit.NewLimiter(1000, 1000)
	return d
}

func jsonServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBinanceDiscoverFilters(t *testing.T) {
	srv := jsonServer(t, `{"timezone":"UTC","symbols":[
		{"symbol":"BTCUSDT","status":"TRADING"},
		{"symbol":"ETHBTC","status":"TRADING"},
		{"symbol":"DOGEUSDT","status":"BREAK"}]}`)

	d := NewBinance(newTestDiscoverer())
	d.restURL = srv.URL

	symbols, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, symbols)
}

func TestBybitDiscoverFilters(t *testing.T) {
	srv := jsonServer(t, `{"ret_code":0,"result":[
		{"name":"BTCUSDT","status":"Trading"},
		{"name":"BTCUSD","status":"Trading"},
		{"name":"XRPUSDT","status":"Closed"}]}`)

	d := NewBybit(newTestDiscoverer())
	d.restURL = srv.URL

	symbols, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, symbols)
}

func TestGateDiscoverFilters(t *testing.T) {
	srv := jsonServer(t, `[
		{"name":"BTC_USDT","in_delisting":false},
		{"name":"LUNA_USDT","in_delisting":true},
		{"name":"BTC_USD","in_delisting":false}]`)

	d := NewGate(newTestDiscoverer())
	d.restURL = srv.URL

	symbols, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC_USDT"}, symbols)
}

func TestHTXDiscoverFilters(t *testing.T) {
	srv := jsonServer(t, `{"status":"ok","ticks":[
		{"contract_code":"BTC-USDT"},
		{"contract_code":"BTC-USD"},
		{"contract_code":"ETH-USDT"}]}`)

	d := NewHTX(newTestDiscoverer())
	d.restURL = srv.URL

	symbols, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, symbols)
}

func TestOKXDiscoverFilters(t *testing.T) {
	srv := jsonServer(t, `{"code":"0","data":[
		{"instId":"BTC-USDT-SWAP","uly":"BTC-USDT"},
		{"instId":"BTC-USD-SWAP","uly":"BTC-USD"}]}`)

	d := NewOKX(newTestDiscoverer())
	d.restURL = srv.URL

	symbols, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USDT-SWAP"}, symbols)
}

func TestDiscovererHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	var out map[string]interface{}
	err := newTestDiscoverer().GetJSON(context.Background(), "binance", srv.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http status 503")
}

func TestDiscovererBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	disc := newTestDiscoverer()
	var out map[string]interface{}

	for i := 0; i < 3; i++ {
		err := disc.GetJSON(context.Background(), "gate", srv.URL, &out)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	err := disc.GetJSON(context.Background(), "gate", srv.URL, &out)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestDiscovererBreakersPerVenue(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)
	up := jsonServer(t, `{"ok":true}`)

	disc := newTestDiscoverer()
	var out map[string]interface{}

	for i := 0; i < 4; i++ {
		_ = disc.GetJSON(context.Background(), "htx", down.URL, &out)
	}

	// htx's open breaker must not take okx down with it.
	require.ErrorIs(t, disc.GetJSON(context.Background(), "htx", down.URL, &out), gobreaker.ErrOpenState)
	assert.NoError(t, disc.GetJSON(context.Background(), "okx", up.URL, &out))
}
