// Package venue provides the live exchange adapter. It speaks a JSON
// REST API for order management and a websocket stream for fills.
package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/hoangle/tradeexec/internal/adapter"
	"github.com/hoangle/tradeexec/internal/metrics"
	"github.com/hoangle/tradeexec/internal/types"
)

// Config holds live venue configuration. Credentials come from the
// environment, never from the config file.
type Config struct {
	BaseURL              string
	WSURL                string
	APIKey               string
	APISecret            string
	MaxRequestsPerSecond int
	RequestTimeout       time.Duration
	ReconnectDelay       time.Duration
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerSecond: 5,
		RequestTimeout:       10 * time.Second,
		ReconnectDelay:       2 * time.Second,
	}
}

// Client implements adapter.Adapter against a live venue.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a live venue client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = DefaultConfig().MaxRequestsPerSecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultConfig().ReconnectDelay
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
	}
}

// orderPayload is the wire form of an order request.
type orderPayload struct {
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price,omitempty"`
	StopPrice     string `json:"stopPrice,omitempty"`
	TimeInForce   string `json:"timeInForce,omitempty"`
}

// orderResponse is the wire form of an order state.
type orderResponse struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	UpdatedAt     int64  `json:"updatedAt"` // unix millis
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Submit places an order. The venue deduplicates on ClientOrderID; a
// duplicate submission returns the existing order.
func (c *Client) Submit(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload := orderPayload{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side.String(),
		Type:          string(req.Type),
		Quantity:      req.Quantity.String(),
		TimeInForce:   string(req.TimeInForce),
	}
	if !req.Price.IsZero() {
		payload.Price = req.Price.String()
	}
	if !req.StopPrice.IsZero() {
		payload.StopPrice = req.StopPrice.String()
	}

	var resp orderResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/orders", payload, &resp)
	if err != nil {
		if isDuplicate(err) {
			// The order already exists from a previous attempt.
			return c.getByClientID(ctx, req.ClientOrderID)
		}
		return nil, err
	}

	return decodeOrder(resp)
}

// Cancel cancels an order. If the venue reports the order terminal or
// unknown, the current state is re-queried instead of failing, so the
// caller never mistakes "already filled" for a cancel failure.
func (c *Client) Cancel(ctx context.Context, orderID string) (*types.OrderResult, error) {
	var resp orderResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/orders/"+orderID, nil, &resp)
	if err != nil {
		if !adapter.IsRetryable(err) {
			if result, statusErr := c.GetStatus(ctx, orderID); statusErr == nil {
				return result, nil
			}
		}
		return nil, err
	}

	return decodeOrder(resp)
}

// GetStatus returns the venue's current view of an order.
func (c *Client) GetStatus(ctx context.Context, orderID string) (*types.OrderResult, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	return decodeOrder(resp)
}

// getByClientID looks up an order by its idempotency key.
func (c *Client) getByClientID(ctx context.Context, clientOrderID string) (*types.OrderResult, error) {
	var resp orderResponse
	path := "/api/v1/orders/by-client-id/" + clientOrderID
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return decodeOrder(resp)
}

// do performs a signed, rate-limited request.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	timer := metrics.NewTimer()
	defer timer.ObserveAdapter(opFor(method))

	if err := c.limiter.Wait(ctx); err != nil {
		return adapter.NewError(opFor(method), err)
	}

	var body io.Reader
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return adapter.NewPermanentError(opFor(method), err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return adapter.NewPermanentError(opFor(method), err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-TIMESTAMP", timestamp)
	req.Header.Set("X-SIGNATURE", sign(c.cfg.APISecret, timestamp, method, path, raw))

	resp, err := c.http.Do(req)
	if err != nil {
		return adapter.NewError(opFor(method), err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.NewError(opFor(method), err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return adapter.NewError(opFor(method), fmt.Errorf("decode response: %w", err))
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return adapter.NewError(opFor(method), venueError(resp.StatusCode, data))
	case resp.StatusCode == http.StatusNotFound:
		return adapter.NewPermanentError(opFor(method), fmt.Errorf("%w: %s", types.ErrOrderNotFound, venueError(resp.StatusCode, data)))
	default:
		return adapter.NewPermanentError(opFor(method), venueError(resp.StatusCode, data))
	}
}

func opFor(method string) string {
	switch method {
	case http.MethodPost:
		return "submit"
	case http.MethodDelete:
		return "cancel"
	default:
		return "status"
	}
}

// statusError carries the HTTP status so callers can distinguish
// duplicate-order conflicts from other rejections.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("venue %d: %s", e.status, e.msg)
}

func venueError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return &statusError{status: status, msg: fmt.Sprintf("code %d: %s", er.Code, er.Message)}
	}
	return &statusError{status: status, msg: string(body)}
}

// sign computes an HMAC-SHA256 signature over the request.
func sign(secret, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// isDuplicate reports whether err is a 409 conflict for an already
// known ClientOrderID.
func isDuplicate(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusConflict
}

func decodeOrder(resp orderResponse) (*types.OrderResult, error) {
	filled, err := decimal.NewFromString(orZero(resp.ExecutedQty))
	if err != nil {
		return nil, adapter.NewError("decode", fmt.Errorf("executed qty %q: %w", resp.ExecutedQty, err))
	}
	avg, err := decimal.NewFromString(orZero(resp.AvgPrice))
	if err != nil {
		return nil, adapter.NewError("decode", fmt.Errorf("avg price %q: %w", resp.AvgPrice, err))
	}
	side, _ := types.ParseSide(resp.Side)

	return &types.OrderResult{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          side,
		Status:        types.OrderStatus(resp.Status),
		FilledQty:     filled,
		AvgFillPrice:  avg,
		UpdatedAt:     time.UnixMilli(resp.UpdatedAt),
	}, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
