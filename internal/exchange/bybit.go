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
	bybitWSURL   = "wss://stream.bybit.com/v5/public/linear"
	bybitRESTURL = "https://api.bybit.com"
)

// Bybit streams linear perpetual trades over the v5 public channel.
type Bybit struct {
	discovery *Discoverer
	restURL   string
	now       func() time.Time
}

// NewBybit creates the bybit dialect.
func NewBybit(d *Discoverer) *Bybit {
	return &Bybit{discovery: d, restURL: bybitRESTURL, now: time.Now}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) URL() string { return bybitWSURL }

type bybitSubscribe struct {
	Op    string   `json:"op"`
	ReqID string   `json:"req_id"`
	Args  []string `json:"args"`
}

// SubscribeFrames builds one subscribe request covering every
// symbol's publicTrade topic.
func (b *Bybit) SubscribeFrames(symbols []string) ([][]byte, error) {
	args := make([]string, len(symbols))
	for i, s := range symbols {
		args[i] = "publicTrade." + s
	}
	frame, err := json.Marshal(bybitSubscribe{
		Op:    "subscribe",
		ReqID: subscribeID(b.now()),
		Args:  args,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

type bybitFrame struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
	Data  []struct {
		TradeTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
	} `json:"data"`
}

func (b *Bybit) Decode(messageType int, frame []byte) (*models.TradeBatch, []byte, error) {
	var msg bybitFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, nil, fmt.Errorf("decode bybit frame: %w", err)
	}

	if msg.Op == "subscribe" {
		log.Debug().Str("exchange", "bybit").Msg("trade stream subscription confirmed")
		return nil, nil, nil
	}
	if !strings.HasPrefix(msg.Topic, "publicTrade.") {
		return nil, nil, nil
	}

	trades := make([]models.Trade, 0, len(msg.Data))
	for _, item := range msg.Data {
		price, err := strconv.ParseFloat(item.Price, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("bybit price %q: %w", item.Price, err)
		}
		trades = append(trades, models.Trade{
			Symbol:    item.Symbol,
			Price:     price,
			Timestamp: item.TradeTime,
		})
	}

	return &models.TradeBatch{Exchange: "bybit", Data: trades}, nil, nil
}

type bybitSymbols struct {
	Result []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"result"`
}

// Discover returns linear symbols that are trading and USDT-quoted.
func (b *Bybit) Discover(ctx context.Context) ([]string, error) {
	var info bybitSymbols
	if err := b.discovery.GetJSON(ctx, b.Name(), b.restURL+"/v2/public/symbols", &info); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(info.Result))
	for _, s := range info.Result {
		if s.Status == "Trading" && strings.HasSuffix(s.Name, "USDT") {
			symbols = append(symbols, s.Name)
		}
	}
	return symbols, nil
}
