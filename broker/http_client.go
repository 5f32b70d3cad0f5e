package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"scalper/types"
)

// HTTPClient is the production Gateway implementation, modeled on
// trader/alpaca_trader.go's doRequest helper: header-based bearer auth and
// a bounded-timeout http.Client.
type HTTPClient struct {
	BaseURL    string
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	log zerolog.Logger

	mu          sync.RWMutex
	sessionTok  string
	sessionExp  time.Time

	httpClient *http.Client

	wsConn   *websocket.Conn
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHTTPClient builds an HTTPClient with the spec's 5s gateway-call
// timeout budget (§5 "Cancellation/timeout semantics").
func NewHTTPClient(baseURL, apiKey, clientCode, password, totpSecret string, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		ClientCode: clientCode,
		Password:   password,
		TOTPSecret: totpSecret,
		log:        log,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		stopCh:     make(chan struct{}),
	}
}

// Login generates a TOTP code and authenticates, storing the session token.
func (c *HTTPClient) Login(ctx context.Context) (bool, error) {
	code, err := totp.GenerateCode(c.TOTPSecret, time.Now())
	if err != nil {
		return false, fmt.Errorf("generate totp: %w", err)
	}

	body := map[string]string{
		"client_code": c.ClientCode,
		"password":    c.Password,
		"totp":        code,
	}
	var resp struct {
		Status string `json:"status"`
		Token  string `json:"token"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/login", body, &resp); err != nil {
		return false, err
	}
	if resp.Status != "success" || resp.Token == "" {
		return false, fmt.Errorf("login failed: status=%s", resp.Status)
	}

	c.mu.Lock()
	c.sessionTok = resp.Token
	c.sessionExp = decodeExpiry(resp.Token, c.log)
	c.mu.Unlock()
	return true, nil
}

// decodeExpiry best-effort decodes a JWT's exp claim purely for logging;
// the process trusts the broker's own session lifecycle, it does not
// re-implement auth or reject tokens it cannot parse.
func decodeExpiry(token string, log zerolog.Logger) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		log.Debug().Err(err).Msg("session token is not a decodable JWT, skipping expiry log")
		return time.Time{}
	}
	if exp, ok := claims["exp"]; ok {
		if f, ok := exp.(float64); ok {
			return time.Unix(int64(f), 0)
		}
	}
	return time.Time{}
}

// IsAuthenticated reports whether a non-expired session token is held.
func (c *HTTPClient) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sessionTok == "" {
		return false
	}
	if c.sessionExp.IsZero() {
		return true
	}
	return time.Now().Before(c.sessionExp)
}

// StartAutoRefresh checks the session once a minute until stopped and logs
// in again once IsAuthenticated reports false (token missing or expired).
func (c *HTTPClient) StartAutoRefresh(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("broker auto-refresh worker recovered")
			}
		}()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if !c.IsAuthenticated() {
					if _, err := c.Login(ctx); err != nil {
						c.log.Warn().Err(err).Msg("broker session refresh failed")
					}
				}
			}
		}
	}()
}

// StopAutoRefresh stops the refresh worker. Idempotent.
func (c *HTTPClient) StopAutoRefresh() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Connect is a no-op for the REST seam; websocket setup happens lazily in
// SubscribeLTP.
func (c *HTTPClient) Connect(ctx context.Context) error {
	return nil
}

// SubscribeLTP opens a websocket stream and fans ticks into a channel. The
// reader goroutine never blocks the caller; on read error it closes the
// channel and returns.
func (c *HTTPClient) SubscribeLTP(ctx context.Context, instruments []string) (<-chan types.Tick, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	c.mu.Lock()
	c.wsConn = conn
	c.mu.Unlock()

	sub := map[string]interface{}{"action": "subscribe", "instruments": instruments}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan types.Tick, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("tick reader recovered")
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			default:
			}
			var tick types.Tick
			if err := conn.ReadJSON(&tick); err != nil {
				c.log.Warn().Err(err).Msg("tick stream read failed, closing")
				return
			}
			select {
			case out <- tick:
			default:
				c.log.Warn().Msg("tick channel full, dropping stale tick")
			}
		}
	}()
	return out, nil
}

func (c *HTTPClient) wsURL() string {
	u := strings.Replace(c.BaseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/stream"
}

// GetLTPWithTimestamp fetches the underlying's last price.
func (c *HTTPClient) GetLTPWithTimestamp(ctx context.Context, underlying string) (LTP, error) {
	var resp struct {
		Price float64   `json:"price"`
		Ts    time.Time `json:"timestamp"`
	}
	path := "/quote/ltp?symbol=" + underlying
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return LTP{}, err
	}
	return LTP{Price: resp.Price, Timestamp: resp.Ts}, nil
}

// GetOptionQuote fetches one instrument's GreeksSnapshot.
func (c *HTTPClient) GetOptionQuote(ctx context.Context, symbol, exchange string) (types.GreeksSnapshot, error) {
	var snap types.GreeksSnapshot
	path := "/quote/option?symbol=" + symbol + "&exchange=" + exchange
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return types.GreeksSnapshot{}, err
	}
	return snap, nil
}

// PlaceOrder submits a BUY/SELL order and validates the response shape.
func (c *HTTPClient) PlaceOrder(ctx context.Context, exchange, symbol string, action Action, orderType OrderType, price float64, quantity int, product Product) (OrderResponse, error) {
	body := map[string]interface{}{
		"exchange": exchange,
		"symbol":   symbol,
		"action":   action,
		"type":     orderType,
		"price":    price,
		"quantity": quantity,
		"product":  product,
	}
	var resp OrderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return OrderResponse{}, err
	}
	return resp, nil
}

// CancelOrder cancels a resting order by id.
func (c *HTTPClient) CancelOrder(ctx context.Context, id string) (OrderStatus, error) {
	var resp OrderStatus
	if err := c.doRequest(ctx, http.MethodDelete, "/orders/"+id, nil, &resp); err != nil {
		return OrderStatus{}, err
	}
	return resp, nil
}

// GetOrderStatus polls an order's current status.
func (c *HTTPClient) GetOrderStatus(ctx context.Context, id string) (OrderStatus, error) {
	var resp OrderStatus
	if err := c.doRequest(ctx, http.MethodGet, "/orders/"+id, nil, &resp); err != nil {
		return OrderStatus{}, err
	}
	return resp, nil
}

// BuildOptionSymbol constructs the broker's instrument symbology. The
// exact expiry/strike encoding is brokerage-specific and out of scope
// (spec §1); this produces the conventional NSE weekly-options format.
func (c *HTTPClient) BuildOptionSymbol(underlying string, expiry time.Time, strike float64, optionType types.OptionType) string {
	return fmt.Sprintf("%s%s%s%s", underlying, expiry.Format("02Jan06"), strconv.FormatFloat(strike, 'f', 0, 64), optionType)
}

// GetNearestWeeklyExpiry asks the broker for the next weekly expiry date.
func (c *HTTPClient) GetNearestWeeklyExpiry(ctx context.Context, underlying string) (time.Time, error) {
	var resp struct {
		Expiry time.Time `json:"expiry"`
	}
	path := "/instruments/expiry?underlying=" + underlying
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.Expiry, nil
}

// doRequest is the shared HTTP helper: marshals body, sets bearer auth,
// decodes the JSON response. Grounded on trader/alpaca_trader.go's
// doRequest.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)

	c.mu.RLock()
	tok := c.sessionTok
	c.mu.RUnlock()
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("broker returned status %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
