package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/models"
)

const (
	gateWSURL   = "wss://fx-ws.gateio.ws/v4/ws/usdt"
	gateRESTURL = "https://api.gateio.ws"
)

// Gate streams USDT futures trades. Contract names keep their native
// underscore form (BTC_USDT).
type Gate struct {
	discovery *Discoverer
	restURL   string
	now       func() time.Time
}

// NewGate creates the gate dialect.
func NewGate(d *Discoverer) *Gate {
	return &Gate{discovery: d, restURL: gateRESTURL, now: time.Now}
}

func (g *Gate) Name() string { return "gate" }

func (g *Gate) URL() string { return gateWSURL }

type gateSubscribe struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload"`
}

// SubscribeFrames builds one futures.trades subscription covering all
// contracts.
func (g *Gate) SubscribeFrames(symbols []string) ([][]byte, error) {
	frame, err := json.Marshal(gateSubscribe{
		Time:    g.now().UnixMilli(),
		Channel: "futures.trades",
		Event:   "subscribe",
		Payload: symbols,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

// gateFrame holds result raw because the ack carries an object there
// while updates carry the trade array.
type gateFrame struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Result  json.RawMessage `json:"result"`
}

type gateTrade struct {
	Contract string `json:"contract"`
	Price    string `json:"price"`
	// create_time_ms arrives as a number that may carry a fractional
	// millisecond part.
	CreateTimeMs float64 `json:"create_time_ms"`
}

func (g *Gate) Decode(messageType int, frame []byte) (*models.TradeBatch, []byte, error) {
	var msg gateFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, nil, fmt.Errorf("decode gate frame: %w", err)
	}

	if msg.Event == "subscribe" {
		log.Debug().Str("exchange", "gate").Msg("trade stream subscription confirmed")
		return nil, nil, nil
	}
	if msg.Channel != "futures.trades" || msg.Event != "update" {
		return nil, nil, nil
	}

	var raw []gateTrade
	if err := json.Unmarshal(msg.Result, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode gate trades: %w", err)
	}

	trades := make([]models.Trade, 0, len(raw))
	for _, item := range raw {
		price, err := strconv.ParseFloat(item.Price, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("gate price %q: %w", item.Price, err)
		}
		trades = append(trades, models.Trade{
			Symbol:    item.Contract,
			Price:     price,
			Timestamp: int64(item.CreateTimeMs),
		})
	}

	return &models.TradeBatch{Exchange: "gate", Data: trades}, nil, nil
}

type gateContract struct {
	Name        string `json:"name"`
	InDelisting bool   `json:"in_delisting"`
}

// Discover returns USDT futures contracts not slated for delisting.
func (g *Gate) Discover(ctx context.Context) ([]string, error) {
	var contracts []gateContract
	if err := g.discovery.GetJSON(ctx, g.Name(), g.restURL+"/api/v4/futures/usdt/contracts", &contracts); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(contracts))
	for _, c := range contracts {
		if !c.InDelisting && strings.HasSuffix(c.Name, "USDT") {
			symbols = append(symbols, c.Name)
		}
	}
	return symbols, nil
}
