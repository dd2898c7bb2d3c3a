package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/bus"
	"github.com/sawpanic/pumpwatch/internal/metrics"
)

const (
	// reconnectDelay is the fixed pause between sessions. Retries are
	// unbounded and there is no backoff: venues drop idle connections
	// routinely and the screener must be back on the feed at once.
	reconnectDelay = 250 * time.Millisecond

	handshakeTimeout = 30 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
)

// Adapter owns one venue's WebSocket session: discover symbols, dial,
// subscribe, decode frames onto the trade bus, reconnect forever.
type Adapter struct {
	dialect   Dialect
	bus       *bus.Bus
	metrics   *metrics.Registry
	dialer    *websocket.Dialer
	delay     time.Duration
	connected atomic.Bool
}

// NewAdapter creates an adapter streaming the dialect's venue onto b.
func NewAdapter(d Dialect, b *bus.Bus, m *metrics.Registry) *Adapter {
	return &Adapter{
		dialect: d,
		bus:     b,
		metrics: m,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		delay: reconnectDelay,
	}
}

// Venue names the adapter's exchange.
func (a *Adapter) Venue() string {
	return a.dialect.Name()
}

// Connected reports whether a streaming session is currently up.
func (a *Adapter) Connected() bool {
	return a.connected.Load()
}

// Run keeps a streaming session alive until ctx is cancelled. Every
// session failure is logged and followed by a fixed-delay reconnect.
func (a *Adapter) Run(ctx context.Context) error {
	name := a.dialect.Name()
	for {
		err := a.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().Err(err).Str("exchange", name).Msg("stream session ended, reconnecting")
		a.metrics.RecordReconnect(name)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.delay):
		}
	}
}

// session runs one connect-subscribe-stream cycle. It returns when
// the transport fails or ctx is cancelled.
func (a *Adapter) session(ctx context.Context) error {
	name := a.dialect.Name()

	symbols, err := a.dialect.Discover(ctx)
	if err != nil {
		a.metrics.RecordDiscovery(name, "error", 0)
		return fmt.Errorf("discover %s symbols: %w", name, err)
	}
	if len(symbols) == 0 {
		a.metrics.RecordDiscovery(name, "error", 0)
		return fmt.Errorf("%s reported no tradable symbols", name)
	}
	a.metrics.RecordDiscovery(name, "ok", len(symbols))

	conn, _, err := a.dialer.DialContext(ctx, a.dialect.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.dialect.URL(), err)
	}
	defer conn.Close()

	a.connected.Store(true)
	defer a.connected.Store(false)

	// Unblock ReadMessage and close cleanly when the supervisor
	// cancels.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		case <-done:
		}
	}()

	log.Info().
		Str("exchange", name).
		Int("symbols", len(symbols)).
		Msg("connected, subscribing to trade streams")

	frames, err := a.dialect.SubscribeFrames(symbols)
	if err != nil {
		return fmt.Errorf("build %s subscribe frames: %w", name, err)
	}
	for _, frame := range frames {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("send subscribe frame: %w", err)
		}
	}

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}
		a.metrics.RecordFrame(name)

		batch, reply, err := a.dialect.Decode(messageType, frame)
		if err != nil {
			log.Warn().Err(err).Str("exchange", name).Msg("skipping malformed frame")
			continue
		}
		if reply != nil {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return fmt.Errorf("send reply frame: %w", err)
			}
		}
		if batch != nil {
			if n := len(batch.Data); n > 0 {
				log.Debug().
					Str("exchange", name).
					Int("trades", n).
					Int64("latency_ms", time.Now().UnixMilli()-batch.Data[n-1].Timestamp).
					Msg("trade frame")
			}
			a.bus.Publish(*batch)
		}
	}
}
