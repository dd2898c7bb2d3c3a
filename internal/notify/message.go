// Package notify renders and delivers price-movement alerts to
// Telegram chats. Delivery is best effort: failures are logged and
// metered, never propagated back into signal evaluation.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Signal describes one detected price movement ready for delivery.
type Signal struct {
	Exchange  string
	Symbol    string
	Uptrend   bool
	PeriodSec int
	Percent   float64
	PriceMin  float64
	PriceMax  float64
	Signals24 int
}

// Render produces the alert text. The layout is load-bearing: chat
// subscribers parse these messages with their own tooling, so the
// delimiters, ordering and price formatting must stay stable.
func Render(sig Signal, debug bool) string {
	minPrice := formatPrice(sig.PriceMin)
	maxPrice := formatPrice(sig.PriceMax)

	icon, action, prices := "🔻", "Dump: -", maxPrice+" - "+minPrice
	if sig.Uptrend {
		icon, action, prices = "🔺", "Pump: +", minPrice+" - "+maxPrice
	}

	suffix := ""
	if debug {
		suffix = " 🤖"
	}

	return fmt.Sprintf(
		"⚫ %s ➖ %dм ➖[%s](https://www.coinglass.com/tv/%s_%s)%s\n%s %s%s%% (%s)\n🔄 Signals 24h: %d",
		sig.Exchange, sig.PeriodSec/60, sig.Symbol, capitalize(sig.Exchange), sig.Symbol, suffix,
		icon, action, formatPercent(sig.Percent), prices, sig.Signals24,
	)
}

// formatPrice renders up to nine fractional digits, strips trailing
// zeros and re-pads a bare trailing dot, so 0.510000000 becomes 0.51
// and 100.000000000 becomes 100.0.
func formatPrice(p float64) string {
	s := strconv.FormatFloat(p, 'f', 9, 64)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

// formatPercent renders the evaluator's one-decimal percent with the
// decimal always present (3.0, not 3).
func formatPercent(p float64) string {
	if p < 0 {
		p = -p
	}
	return strconv.FormatFloat(p, 'f', 1, 64)
}

// capitalize matches the chart-link convention: first rune upper, the
// rest lower (binance -> Binance, okx -> Okx).
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
