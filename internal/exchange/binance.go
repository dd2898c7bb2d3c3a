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
	binanceWSURL   = "wss://stream.binance.com:9443/ws"
	binanceRESTURL = "https://api.binance.com"
)

// Binance streams spot trades over the raw stream endpoint.
type Binance struct {
	discovery *Discoverer
	restURL   string
	now       func() time.Time
}

// NewBinance creates the binance dialect.
func NewBinance(d *Discoverer) *Binance {
	return &Binance{discovery: d, restURL: binanceRESTURL, now: time.Now}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) URL() string { return binanceWSURL }

type binanceSubscribe struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// SubscribeFrames builds one SUBSCRIBE request covering every
// symbol's @trade stream.
func (b *Binance) SubscribeFrames(symbols []string) ([][]byte, error) {
	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = strings.ToLower(s) + "@trade"
	}
	frame, err := json.Marshal(binanceSubscribe{
		ID:     subscribeID(b.now()),
		Method: "SUBSCRIBE",
		Params: params,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

// binanceFrame covers both the subscription ack ({"result":null,
// "id":"subscribe_<ms>"}) and trade events.
type binanceFrame struct {
	ID        string `json:"id"`
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

func (b *Binance) Decode(messageType int, frame []byte) (*models.TradeBatch, []byte, error) {
	var msg binanceFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, nil, fmt.Errorf("decode binance frame: %w", err)
	}

	if strings.Contains(msg.ID, "subscribe") {
		log.Debug().Str("exchange", "binance").Msg("trade stream subscription confirmed")
		return nil, nil, nil
	}
	if msg.EventType != "trade" {
		return nil, nil, nil
	}

	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("binance price %q: %w", msg.Price, err)
	}

	return &models.TradeBatch{
		Exchange: "binance",
		Data: []models.Trade{{
			Symbol:    msg.Symbol,
			Price:     price,
			Timestamp: msg.TradeTime,
		}},
	}, nil, nil
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
}

// Discover returns spot symbols that are trading and USDT-quoted.
func (b *Binance) Discover(ctx context.Context) ([]string, error) {
	var info binanceExchangeInfo
	if err := b.discovery.GetJSON(ctx, b.Name(), b.restURL+"/api/v3/exchangeInfo", &info); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" && strings.HasSuffix(s.Symbol, "USDT") {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}
