package venue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/adapter"
	"github.com/hoangle/tradeexec/internal/types"
)

var errMissingWSURL = errors.New("websocket url not configured")

// fillMessage is the wire form of a fill stream event.
type fillMessage struct {
	Event         string `json:"event"`
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Timestamp     int64  `json:"timestamp"`
}

// StreamFills opens the venue's execution-report websocket. The
// connection reconnects automatically until ctx is cancelled; the
// returned channel closes only when ctx ends.
func (c *Client) StreamFills(ctx context.Context) (<-chan types.FillEvent, error) {
	if c.cfg.WSURL == "" {
		return nil, adapter.NewPermanentError("stream", errMissingWSURL)
	}

	ch := make(chan types.FillEvent, 100)

	go func() {
		defer close(ch)
		for {
			if err := c.streamOnce(ctx, ch); err != nil {
				c.logger.Warn("fill stream disconnected", "err", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ReconnectDelay):
			}
		}
	}()

	return ch, nil
}

// streamOnce runs one websocket session until it fails or ctx ends.
func (c *Client) streamOnce(ctx context.Context, ch chan<- types.FillEvent) error {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	header := map[string][]string{
		"X-API-KEY":   {c.cfg.APIKey},
		"X-TIMESTAMP": {timestamp},
		"X-SIGNATURE": {sign(c.cfg.APISecret, timestamp, "GET", "/ws/fills", nil)},
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, header)
	if err != nil {
		return adapter.NewError("stream", err)
	}
	defer func() { _ = conn.Close() }()

	c.logger.Info("fill stream connected", "url", c.cfg.WSURL)

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return adapter.NewError("stream", err)
		}

		var msg fillMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("fill stream: malformed message", "err", err)
			continue
		}
		if msg.Event != "executionReport" {
			continue
		}

		event, err := decodeFill(msg)
		if err != nil {
			c.logger.Warn("fill stream: undecodable fill", "order_id", msg.OrderID, "err", err)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch <- event:
		}
	}
}

func decodeFill(msg fillMessage) (types.FillEvent, error) {
	filled, err := decimal.NewFromString(orZero(msg.ExecutedQty))
	if err != nil {
		return types.FillEvent{}, err
	}
	avg, err := decimal.NewFromString(orZero(msg.AvgPrice))
	if err != nil {
		return types.FillEvent{}, err
	}
	side, _ := types.ParseSide(msg.Side)

	return types.FillEvent{
		OrderID:       msg.OrderID,
		ClientOrderID: msg.ClientOrderID,
		Symbol:        msg.Symbol,
		Side:          side,
		Status:        types.OrderStatus(msg.Status),
		FilledQty:     filled,
		AvgFillPrice:  avg,
		Timestamp:     time.UnixMilli(msg.Timestamp),
	}, nil
}

// Close releases client resources. The HTTP client needs no teardown;
// stream goroutines stop with their contexts.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Client)(nil)
