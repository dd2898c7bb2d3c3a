// Package exchange streams public trades from venue WebSocket APIs
// onto the trade bus. One Adapter per venue owns the connection
// lifecycle; a Dialect captures everything venue-specific: the
// endpoint, subscribe frames, inbound frame decoding and symbol
// discovery.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/pumpwatch/internal/models"
)

// Dialect is the venue-specific half of a streaming session.
type Dialect interface {
	// Name is the lower-case venue identifier used in market keys.
	Name() string

	// URL is the WebSocket endpoint to dial.
	URL() string

	// Discover returns the venue-native symbols qualifying for
	// subscription: tradable, USDT-quoted instruments.
	Discover(ctx context.Context) ([]string, error)

	// SubscribeFrames builds the frames sent right after connecting.
	SubscribeFrames(symbols []string) ([][]byte, error)

	// Decode translates one inbound frame. A nil batch means the
	// frame carried no trades (ack, heartbeat, system notice). A
	// non-nil reply must be written back to the venue.
	Decode(messageType int, frame []byte) (batch *models.TradeBatch, reply []byte, err error)
}

// NewDialect returns the dialect for a configured venue name.
func NewDialect(name string, discovery *Discoverer) (Dialect, error) {
	switch name {
	case "binance":
		return NewBinance(discovery), nil
	case "bybit":
		return NewBybit(discovery), nil
	case "gate":
		return NewGate(discovery), nil
	case "htx":
		return NewHTX(discovery), nil
	case "okx":
		return NewOKX(discovery), nil
	}
	return nil, fmt.Errorf("unknown exchange %q", name)
}

// subscribeID builds the request id venues echo back in their
// subscription acks.
func subscribeID(now time.Time) string {
	return fmt.Sprintf("subscribe_%d", now.UnixMilli())
}
