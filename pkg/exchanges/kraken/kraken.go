package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"rotation-trader/pkg/exchanges/common"
)

// Config holds Kraken credentials.
type Config struct {
	APIKey    string
	APISecret string // base64-encoded, as issued by Kraken
	BaseURL   string // override for tests; defaults to the production REST host
}

// Client is a Kraken REST trading client implementing common.Gateway.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	nonce      *nonceSource
	mapper     *SymbolMapper
	limiter    *rate.Limiter
	lots       *lotCache
	attempts   int
	retryBase  time.Duration
}

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.kraken.com"
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		nonce:      &nonceSource{},
		mapper:     NewSymbolMapper(),
		// Kraken counts private calls against a decaying counter; one request
		// per second with a small burst stays well under the tier-2 cap.
		limiter:   rate.NewLimiter(rate.Every(time.Second), 3),
		attempts:  3,
		retryBase: 500 * time.Millisecond,
	}
	c.lots = newLotCache(c)
	return c
}

// Mapper exposes the symbol mapper for callers that translate balances.
func (c *Client) Mapper() *SymbolMapper { return c.mapper }

// Ticker returns best bid/ask/last for one symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (common.Ticker, error) {
	pair, err := c.mapper.ToExchange(symbol)
	if err != nil {
		return common.Ticker{}, err
	}

	var result map[string]struct {
		Ask  []string `json:"a"`
		Bid  []string `json:"b"`
		Last []string `json:"c"`
	}
	if err := c.public(ctx, "/0/public/Ticker", url.Values{"pair": {pair}}, &result); err != nil {
		return common.Ticker{}, err
	}

	for _, entry := range result {
		t := common.Ticker{Symbol: symbol}
		if len(entry.Ask) > 0 {
			t.Ask, _ = strconv.ParseFloat(entry.Ask[0], 64)
		}
		if len(entry.Bid) > 0 {
			t.Bid, _ = strconv.ParseFloat(entry.Bid[0], 64)
		}
		if len(entry.Last) > 0 {
			t.Last, _ = strconv.ParseFloat(entry.Last[0], 64)
		}
		return t, nil
	}
	return common.Ticker{}, fmt.Errorf("%w: empty ticker for %s", common.ErrInsufficientData, symbol)
}

// Balances returns non-zero account balances keyed by internal asset name.
func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	var result map[string]string
	if err := c.private(ctx, "/0/private/Balance", url.Values{}, &result); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(result))
	for code, amount := range result {
		qty, err := strconv.ParseFloat(amount, 64)
		if err != nil || qty == 0 {
			continue
		}
		out[c.mapper.Asset(code)] = qty
	}
	return out, nil
}

// PlaceLimitOrder posts a limit order; PostOnly maps to the "post" oflag.
func (c *Client) PlaceLimitOrder(ctx context.Context, req common.LimitOrderRequest) (common.OrderAck, error) {
	pair, err := c.mapper.ToExchange(req.Symbol)
	if err != nil {
		return common.OrderAck{}, err
	}

	params := url.Values{}
	params.Set("pair", pair)
	params.Set("type", strings.ToLower(string(req.Side)))
	params.Set("ordertype", "limit")
	params.Set("price", formatFloat(req.Price))
	params.Set("volume", formatFloat(req.Qty))
	if req.PostOnly {
		params.Set("oflags", "post")
	}
	if req.ClientID != "" {
		params.Set("cl_ord_id", req.ClientID)
	}
	return c.addOrder(ctx, params)
}

// PlaceMarketOrder submits an immediate taker order.
func (c *Client) PlaceMarketOrder(ctx context.Context, req common.MarketOrderRequest) (common.OrderAck, error) {
	pair, err := c.mapper.ToExchange(req.Symbol)
	if err != nil {
		return common.OrderAck{}, err
	}

	params := url.Values{}
	params.Set("pair", pair)
	params.Set("type", strings.ToLower(string(req.Side)))
	params.Set("ordertype", "market")
	params.Set("volume", formatFloat(req.Qty))
	if req.ClientID != "" {
		params.Set("cl_ord_id", req.ClientID)
	}
	return c.addOrder(ctx, params)
}

func (c *Client) addOrder(ctx context.Context, params url.Values) (common.OrderAck, error) {
	var result struct {
		TxID []string `json:"txid"`
	}
	if err := c.private(ctx, "/0/private/AddOrder", params, &result); err != nil {
		return common.OrderAck{}, err
	}
	if len(result.TxID) == 0 {
		return common.OrderAck{}, errors.New("kraken: AddOrder returned no txid")
	}
	return common.OrderAck{ExchangeOrderID: result.TxID[0], Status: common.StatusNew}, nil
}

// CancelOrder cancels a resting order by exchange transaction id.
func (c *Client) CancelOrder(ctx context.Context, _ /* symbol */, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("txid", exchangeOrderID)
	var result struct {
		Count int `json:"count"`
	}
	return c.private(ctx, "/0/private/CancelOrder", params, &result)
}

// OrderStatus fetches the authoritative order state including realized
// average fill price and fee.
func (c *Client) OrderStatus(ctx context.Context, symbol, exchangeOrderID string) (common.OrderState, error) {
	params := url.Values{}
	params.Set("txid", exchangeOrderID)
	params.Set("trades", "false")

	var result map[string]struct {
		Status string `json:"status"`
		Vol    string `json:"vol"`
		VolExe string `json:"vol_exec"`
		Price  string `json:"price"`
		Fee    string `json:"fee"`
		Descr  struct {
			Type string `json:"type"`
		} `json:"descr"`
	}
	if err := c.private(ctx, "/0/private/QueryOrders", params, &result); err != nil {
		return common.OrderState{}, err
	}

	entry, ok := result[exchangeOrderID]
	if !ok {
		return common.OrderState{}, fmt.Errorf("kraken: order %s not found", exchangeOrderID)
	}

	state := common.OrderState{
		ExchangeOrderID: exchangeOrderID,
		Symbol:          symbol,
		Side:            common.Side(strings.ToUpper(entry.Descr.Type)),
	}
	state.Qty, _ = strconv.ParseFloat(entry.Vol, 64)
	state.FilledQty, _ = strconv.ParseFloat(entry.VolExe, 64)
	state.AvgFillPrice, _ = strconv.ParseFloat(entry.Price, 64)
	state.Fee, _ = strconv.ParseFloat(entry.Fee, 64)
	state.Status = mapStatus(entry.Status, state.FilledQty)
	return state, nil
}

// LotInfo returns tradable constraints for a symbol, cached for the process
// lifetime with conservative fallbacks on fetch failure.
func (c *Client) LotInfo(ctx context.Context, symbol string) (common.LotInfo, error) {
	return c.lots.Info(ctx, symbol)
}

func mapStatus(status string, filled float64) common.OrderStatus {
	switch status {
	case "pending", "open":
		if filled > 0 {
			return common.StatusPartial
		}
		return common.StatusNew
	case "closed":
		return common.StatusFilled
	case "canceled":
		return common.StatusCanceled
	case "expired":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

// public performs an unauthenticated GET against a /0/public endpoint.
// Transient failures are retried with exponential backoff.
func (c *Client) public(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return common.Retry(ctx, c.attempts, c.retryBase, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		return c.do(req, out)
	})
}

// private signs and performs a POST against a /0/private endpoint.
// Signature: base64(HMAC-SHA512(secret, path + SHA256(nonce + encodedBody)))
// with the nonce embedded in both the signature and the body. Transient
// failures are retried with backoff; every attempt signs a fresh nonce, since
// replaying a consumed nonce would be rejected.
func (c *Client) private(ctx context.Context, path string, params url.Values, out any) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.AuthError("API key/secret required")
	}
	return common.Retry(ctx, c.attempts, c.retryBase, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		nonce := c.nonce.Next()
		params.Set("nonce", nonce)
		body := params.Encode()

		sig, err := sign(path, nonce, body, c.cfg.APISecret)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("API-Key", c.cfg.APIKey)
		req.Header.Set("API-Sign", sig)

		return c.do(req, out)
	})
}

// sign computes the Kraken request signature for path and url-encoded body.
func sign(path, nonce, body, secret string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", common.AuthError("API secret is not valid base64")
	}
	digest := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// do executes the request and unwraps Kraken's {error:[],result:{}} envelope.
func (c *Client) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return common.TransientError(err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return common.TransientError(err)
	}
	if res.StatusCode >= 500 {
		return common.TransientError(fmt.Errorf("status %d: %s", res.StatusCode, raw))
	}

	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("kraken: decode response: %w", err)
	}
	if len(envelope.Error) > 0 {
		return translateError(envelope.Error)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("kraken: decode result: %w", err)
		}
	}
	return nil
}

// translateError maps Kraken error strings onto the shared taxonomy. Invalid
// keys, signatures, stale nonces, and permission failures are credential
// problems; they must surface as auth errors and never be retried.
func translateError(messages []string) error {
	msg := strings.Join(messages, "; ")
	switch {
	case strings.Contains(msg, "EAPI:Invalid key"),
		strings.Contains(msg, "EAPI:Invalid signature"),
		strings.Contains(msg, "EAPI:Invalid nonce"),
		strings.Contains(msg, "EGeneral:Permission denied"):
		return common.AuthError(msg)
	case strings.Contains(msg, "Rate limit"):
		return fmt.Errorf("%w: %s", common.ErrRateLimited, msg)
	case strings.HasPrefix(msg, "EService:"):
		return common.TransientError(errors.New(msg))
	default:
		return fmt.Errorf("kraken: %s", msg)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
