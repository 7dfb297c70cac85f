package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultStreamURL is Kraken's public websocket endpoint.
const DefaultStreamURL = "wss://ws.kraken.com"

// wsBase maps internal base assets to Kraken's websocket pair notation.
var wsBase = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// Feed maintains a live last-price cache from Kraken's public ticker stream.
// It reconnects with backoff and serves reads lock-free of any network I/O,
// so callers always get the freshest observed price or a miss.
type Feed struct {
	URL    string
	dialer *websocket.Dialer

	mu   sync.RWMutex
	last map[string]float64 // keyed by internal symbol, e.g. "BTC/USD"
}

func NewFeed() *Feed {
	return &Feed{
		URL:    DefaultStreamURL,
		dialer: websocket.DefaultDialer,
		last:   make(map[string]float64),
	}
}

// Last returns the cached last trade price for an internal symbol.
func (f *Feed) Last(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.last[symbol]
	return price, ok
}

// Run subscribes to the ticker channel for all symbols and blocks until the
// context is cancelled, reconnecting on stream failure.
func (f *Feed) Run(ctx context.Context, symbols []string) {
	backoff := time.Second
	for {
		err := f.stream(ctx, symbols)
		if ctx.Err() != nil {
			return
		}
		log.Printf("market: kraken stream dropped: %v, reconnecting in %s", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *Feed) stream(ctx context.Context, symbols []string) error {
	conn, _, err := f.dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial kraken ws: %w", err)
	}
	defer conn.Close()

	pairs := make([]string, 0, len(symbols))
	fromWS := make(map[string]string, len(symbols))
	for _, s := range symbols {
		p := wsPair(s)
		pairs = append(pairs, p)
		fromWS[p] = s
	}

	sub := map[string]any{
		"event":        "subscribe",
		"pair":         pairs,
		"subscription": map[string]string{"name": "ticker"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe ticker: %w", err)
	}
	log.Printf("market: subscribed to kraken ticker for %d pairs", len(pairs))

	// Unblock reads when the caller cancels.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		pair, price, ok := parseTickerMessage(msg)
		if !ok {
			continue
		}
		symbol, known := fromWS[pair]
		if !known {
			continue
		}
		f.mu.Lock()
		f.last[symbol] = price
		f.mu.Unlock()
	}
}

// parseTickerMessage extracts the last trade price from one ticker update.
// Kraken sends updates as arrays [channelID, payload, "ticker", pair] and
// status/heartbeat frames as objects; anything that is not a ticker array is
// skipped.
func parseTickerMessage(msg []byte) (pair string, price float64, ok bool) {
	var parts []json.RawMessage
	if err := json.Unmarshal(msg, &parts); err != nil || len(parts) < 4 {
		return "", 0, false
	}

	var payload struct {
		Close []string `json:"c"` // [price, lot volume]
	}
	if err := json.Unmarshal(parts[1], &payload); err != nil || len(payload.Close) == 0 {
		return "", 0, false
	}
	var channel string
	if err := json.Unmarshal(parts[2], &channel); err != nil || channel != "ticker" {
		return "", 0, false
	}
	if err := json.Unmarshal(parts[3], &pair); err != nil {
		return "", 0, false
	}

	price, err := strconv.ParseFloat(payload.Close[0], 64)
	if err != nil || price <= 0 {
		return "", 0, false
	}
	return pair, price, true
}

// wsPair converts an internal symbol to Kraken websocket pair notation.
func wsPair(symbol string) string {
	base, quote, found := strings.Cut(symbol, "/")
	if !found {
		return symbol
	}
	if mapped, ok := wsBase[base]; ok {
		base = mapped
	}
	return base + "/" + quote
}
