package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/models"
)

const (
	okxWSURL   = "wss://ws.okx.com:8443/ws/v5/public"
	okxRESTURL = "https://www.okx.com"
)

// OKX streams perpetual swap trades over the v5 public channel.
type OKX struct {
	discovery *Discoverer
	restURL   string
}

// NewOKX creates the okx dialect.
func NewOKX(d *Discoverer) *OKX {
	return &OKX{discovery: d, restURL: okxRESTURL}
}

func (o *OKX) Name() string { return "okx" }

func (o *OKX) URL() string { return okxWSURL }

type okxSubscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxSubscribe struct {
	Op   string            `json:"op"`
	Args []okxSubscribeArg `json:"args"`
}

// SubscribeFrames builds one subscribe request covering every
// instrument's trades channel.
func (o *OKX) SubscribeFrames(symbols []string) ([][]byte, error) {
	args := make([]okxSubscribeArg, len(symbols))
	for i, s := range symbols {
		args[i] = okxSubscribeArg{Channel: "trades", InstID: s}
	}
	frame, err := json.Marshal(okxSubscribe{Op: "subscribe", Args: args})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

type okxFrame struct {
	Event string `json:"event"`
	Arg   struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data []struct {
		InstID    string `json:"instId"`
		Price     string `json:"px"`
		TradeTime string `json:"ts"`
	} `json:"data"`
}

func (o *OKX) Decode(messageType int, frame []byte) (*models.TradeBatch, []byte, error) {
	var msg okxFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, nil, fmt.Errorf("decode okx frame: %w", err)
	}

	if msg.Event == "subscribe" {
		log.Debug().Str("exchange", "okx").Msg("trade stream subscription confirmed")
		return nil, nil, nil
	}
	if msg.Event != "" || msg.Arg.Channel != "trades" {
		return nil, nil, nil
	}

	trades := make([]models.Trade, 0, len(msg.Data))
	for _, item := range msg.Data {
		price, err := strconv.ParseFloat(item.Price, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("okx price %q: %w", item.Price, err)
		}
		ts, err := strconv.ParseInt(item.TradeTime, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("okx timestamp %q: %w", item.TradeTime, err)
		}
		trades = append(trades, models.Trade{
			Symbol:    item.InstID,
			Price:     price,
			Timestamp: ts,
		})
	}

	return &models.TradeBatch{Exchange: "okx", Data: trades}, nil, nil
}

type okxInstruments struct {
	Data []struct {
		InstID     string `json:"instId"`
		Underlying string `json:"uly"`
	} `json:"data"`
}

// Discover returns swap instruments whose underlying is USDT-quoted.
func (o *OKX) Discover(ctx context.Context) ([]string, error) {
	var info okxInstruments
	url := o.restURL + "/api/v5/public/instruments?instType=SWAP"
	if err := o.discovery.GetJSON(ctx, o.Name(), url, &info); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(info.Data))
	for _, inst := range info.Data {
		if strings.HasSuffix(inst.Underlying, "USDT") {
			symbols = append(symbols, inst.InstID)
		}
	}
	return symbols, nil
}
