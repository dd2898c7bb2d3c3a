package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/metrics"
	"github.com/sawpanic/pumpwatch/internal/models"
	"github.com/sawpanic/pumpwatch/internal/net/ratelimit"
	"github.com/sawpanic/pumpwatch/internal/store"
)

const (
	telegramAPIURL = "https://api.telegram.org"

	// Bot API allows about 30 messages per second across all chats.
	telegramRPS   = 25.0
	telegramBurst = 30

	// Lifetime of a stored message handle. Updates arriving after it
	// lapses start a fresh message instead of editing a stale one.
	messageTTL = 2 * time.Minute

	requestTimeout = 10 * time.Second
)

// Notifier delivers alerts. The evaluator talks to this interface so
// signal logic can be exercised without network I/O. Delivery is best
// effort and never reported back: a failed send must not disturb the
// signal state machine.
type Notifier interface {
	// Announce sends a fresh alert to every configured chat and
	// remembers the message handles for later edits.
	Announce(ctx context.Context, sig Signal)

	// Update edits the previously announced message in place. Chats
	// whose handle has lapsed are skipped silently.
	Update(ctx context.Context, sig Signal)
}

// Telegram is the Bot API implementation of Notifier.
type Telegram struct {
	apiURL  string
	apiHost string
	token   string
	chatIDs []int64
	debug   bool

	store   store.Store
	client  *http.Client
	limiter *ratelimit.Limiter
	metrics *metrics.Registry
}

// Options configures the Telegram notifier.
type Options struct {
	Token   string
	ChatIDs []int64
	Debug   bool

	// BaseURL overrides the Bot API endpoint in tests. Empty means the
	// production endpoint.
	BaseURL string
}

// NewTelegram builds a notifier delivering to the given chats. Message
// handles are kept in st under per-chat keys so updates survive
// process restarts within the handle TTL.
func NewTelegram(opts Options, st store.Store, m *metrics.Registry) *Telegram {
	apiURL := opts.BaseURL
	if apiURL == "" {
		apiURL = telegramAPIURL
	}

	host := apiURL
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host = u.Host
	}

	return &Telegram{
		apiURL:  apiURL,
		apiHost: host,
		token:   opts.Token,
		chatIDs: opts.ChatIDs,
		debug:   opts.Debug,
		store:   st,
		client:  &http.Client{Timeout: requestTimeout},
		limiter: ratelimit.NewLimiter(telegramRPS, telegramBurst),
		metrics: m,
	}
}

// Announce implements Notifier.
func (t *Telegram) Announce(ctx context.Context, sig Signal) {
	text := Render(sig, t.debug)
	dir := models.DirectionFromUptrend(sig.Uptrend)

	log.Info().
		Str("exchange", sig.Exchange).
		Str("symbol", sig.Symbol).
		Int("period_sec", sig.PeriodSec).
		Str("direction", string(dir)).
		Float64("percent", sig.Percent).
		Int("signals_24h", sig.Signals24).
		Msg("price movement alert")

	for _, chatID := range t.chatIDs {
		msgID, err := t.send(ctx, chatID, text)
		if err != nil {
			log.Error().Err(err).
				Int64("chat_id", chatID).
				Str("symbol", sig.Symbol).
				Msg("failed to send alert")
			continue
		}

		key := models.MessageKey(chatID, sig.Exchange, sig.Symbol, sig.PeriodSec, dir)
		if err := t.store.Set(ctx, key, strconv.FormatInt(msgID, 10), messageTTL); err != nil {
			t.metrics.RecordStoreError("set")
			log.Error().Err(err).
				Int64("chat_id", chatID).
				Str("symbol", sig.Symbol).
				Msg("failed to store message handle")
		}
	}
}

// Update implements Notifier.
func (t *Telegram) Update(ctx context.Context, sig Signal) {
	text := Render(sig, t.debug)
	dir := models.DirectionFromUptrend(sig.Uptrend)

	log.Info().
		Str("exchange", sig.Exchange).
		Str("symbol", sig.Symbol).
		Int("period_sec", sig.PeriodSec).
		Str("direction", string(dir)).
		Float64("percent", sig.Percent).
		Msg("price movement alert updated")

	for _, chatID := range t.chatIDs {
		key := models.MessageKey(chatID, sig.Exchange, sig.Symbol, sig.PeriodSec, dir)

		raw, err := t.store.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				t.metrics.RecordStoreError("get")
				log.Error().Err(err).
					Int64("chat_id", chatID).
					Msg("failed to read message handle")
			}
			// Handle aged out: the original message is too old to edit.
			continue
		}

		msgID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Error().Err(err).
				Int64("chat_id", chatID).
				Str("handle", raw).
				Msg("malformed message handle")
			continue
		}

		if err := t.edit(ctx, chatID, msgID, text); err != nil {
			log.Error().Err(err).
				Int64("chat_id", chatID).
				Int64("message_id", msgID).
				Msg("failed to edit alert")
		}
	}
}

// apiRequest is the shared body of sendMessage and editMessageText.
type apiRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	MessageID             int64  `json:"message_id,omitempty"`
}

// apiResponse carries the fields read back from the Bot API.
type apiResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) (int64, error) {
	return t.post(ctx, "sendMessage", apiRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
}

func (t *Telegram) edit(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := t.post(ctx, "editMessageText", apiRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
		MessageID:             messageID,
	})
	return err
}

// post issues one Bot API call and returns the message id of the
// result. The call is paced by the shared per-host limiter.
func (t *Telegram) post(ctx context.Context, method string, payload apiRequest) (int64, error) {
	if err := t.limiter.Wait(ctx, t.apiHost); err != nil {
		return 0, fmt.Errorf("telegram %s: %w", method, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("telegram %s: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.metrics.RecordNotify(method, "error")
		return 0, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	t.metrics.ObserveNotify(time.Since(start))
	t.metrics.RecordNotify(method, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("telegram %s status %d: %s", method, resp.StatusCode, detail)
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}

	return out.Result.MessageID, nil
}
