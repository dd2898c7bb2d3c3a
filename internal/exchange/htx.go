package exchange

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/models"
)

const (
	htxWSURL   = "wss://api.hbdm.com/linear-swap-ws"
	htxRESTURL = "https://api.hbdm.com"
)

// HTX streams linear swap trades. Every inbound frame is
// gzip-compressed binary, and the server's {"ping":n} heartbeats must
// be answered with {"pong":n} or the connection is dropped.
type HTX struct {
	discovery *Discoverer
	restURL   string
	now       func() time.Time
}

// NewHTX creates the htx dialect.
func NewHTX(d *Discoverer) *HTX {
	return &HTX{discovery: d, restURL: htxRESTURL, now: time.Now}
}

func (h *HTX) Name() string { return "htx" }

func (h *HTX) URL() string { return htxWSURL }

type htxSubscribe struct {
	Sub string `json:"sub"`
	ID  string `json:"id"`
}

// SubscribeFrames builds one frame per symbol; htx rejects multi-topic
// subscription requests.
func (h *HTX) SubscribeFrames(symbols []string) ([][]byte, error) {
	id := strconv.FormatInt(h.now().Unix(), 10)

	frames := make([][]byte, 0, len(symbols))
	for _, s := range symbols {
		frame, err := json.Marshal(htxSubscribe{
			Sub: fmt.Sprintf("market.%s.trade.detail", s),
			ID:  id,
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

type htxFrame struct {
	Ping   int64  `json:"ping"`
	Subbed string `json:"subbed"`
	Ch     string `json:"ch"`
	Tick   struct {
		Data []struct {
			Price     float64 `json:"price"`
			TradeTime int64   `json:"ts"`
		} `json:"data"`
	} `json:"tick"`
}

type htxPong struct {
	Pong int64 `json:"pong"`
}

func (h *HTX) Decode(messageType int, frame []byte) (*models.TradeBatch, []byte, error) {
	if messageType == websocket.BinaryMessage {
		var err error
		frame, err = gunzip(frame)
		if err != nil {
			return nil, nil, fmt.Errorf("gunzip htx frame: %w", err)
		}
	}

	var msg htxFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, nil, fmt.Errorf("decode htx frame: %w", err)
	}

	if msg.Ping != 0 {
		reply, err := json.Marshal(htxPong{Pong: msg.Ping})
		if err != nil {
			return nil, nil, err
		}
		return nil, reply, nil
	}
	if msg.Subbed != "" {
		log.Debug().Str("exchange", "htx").Str("topic", msg.Subbed).Msg("trade stream subscription confirmed")
		return nil, nil, nil
	}
	if !strings.HasSuffix(msg.Ch, ".trade.detail") {
		return nil, nil, nil
	}

	// Channel form is market.<symbol>.trade.detail.
	parts := strings.Split(msg.Ch, ".")
	if len(parts) < 2 {
		return nil, nil, fmt.Errorf("unexpected htx channel %q", msg.Ch)
	}
	symbol := parts[1]

	trades := make([]models.Trade, 0, len(msg.Tick.Data))
	for _, item := range msg.Tick.Data {
		trades = append(trades, models.Trade{
			Symbol:    symbol,
			Price:     item.Price,
			Timestamp: item.TradeTime,
		})
	}

	return &models.TradeBatch{Exchange: "htx", Data: trades}, nil, nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type htxBatchMerged struct {
	Ticks []struct {
		ContractCode string `json:"contract_code"`
	} `json:"ticks"`
}

// Discover returns USDT-margined swap contract codes.
func (h *HTX) Discover(ctx context.Context) ([]string, error) {
	var info htxBatchMerged
	url := h.restURL + "/v2/linear-swap-ex/market/detail/batch_merged?business_type=swap"
	if err := h.discovery.GetJSON(ctx, h.Name(), url, &info); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(info.Ticks))
	for _, t := range info.Ticks {
		if strings.HasSuffix(t.ContractCode, "USDT") {
			symbols = append(symbols, t.ContractCode)
		}
	}
	return symbols, nil
}
