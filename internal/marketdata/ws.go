package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// tickMessage is the wire form of a ticker stream event.
type tickMessage struct {
	Event     string `json:"event"`
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// WSFeed streams prices from the venue's public ticker websocket. One
// connection is opened per subscribed symbol and reconnects until the
// feed is closed.
type WSFeed struct {
	url            string
	reconnectDelay time.Duration
	logger         *slog.Logger

	mu     sync.RWMutex
	latest map[string]PriceTick

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSFeed creates a websocket price feed. url is the ticker stream
// endpoint; the symbol is appended as a query parameter on subscribe.
func NewWSFeed(url string, logger *slog.Logger) *WSFeed {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WSFeed{
		url:            url,
		reconnectDelay: 2 * time.Second,
		logger:         logger,
		latest:         make(map[string]PriceTick),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// LatestPrice returns the most recent price seen for a symbol.
func (f *WSFeed) LatestPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	tick, ok := f.latest[symbol]
	f.mu.RUnlock()
	if !ok {
		return decimal.Zero, ErrNoPrice
	}
	return tick.Price, nil
}

// Subscribe starts streaming ticks for a symbol. The returned channel
// closes when ctx is cancelled or the feed shuts down.
func (f *WSFeed) Subscribe(ctx context.Context, symbol string) (<-chan PriceTick, error) {
	ch := make(chan PriceTick, 64)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer close(ch)
		for {
			if err := f.streamOnce(ctx, symbol, ch); err != nil {
				f.logger.Warn("ticker stream disconnected", "symbol", symbol, "err", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-f.ctx.Done():
				return
			case <-time.After(f.reconnectDelay):
			}
		}
	}()

	return ch, nil
}

// streamOnce runs one websocket session until it fails or ctx ends.
func (f *WSFeed) streamOnce(ctx context.Context, symbol string, ch chan<- PriceTick) error {
	url := f.url + "?symbol=" + symbol
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	f.logger.Info("ticker stream connected", "symbol", symbol)

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-f.ctx.Done():
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
			return err
		}

		var msg tickMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("ticker stream: malformed message", "err", err)
			continue
		}
		if msg.Event != "ticker" || msg.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(msg.Price)
		if err != nil {
			f.logger.Warn("ticker stream: undecodable price", "price", msg.Price)
			continue
		}

		tick := PriceTick{
			Symbol:    symbol,
			Price:     price,
			Timestamp: time.UnixMilli(msg.Timestamp),
		}

		f.mu.Lock()
		f.latest[symbol] = tick
		f.mu.Unlock()

		// Slow consumers skip ticks rather than stall the reader.
		select {
		case ch <- tick:
		default:
		}
	}
}

// Close shuts down all streams.
func (f *WSFeed) Close() error {
	f.cancel()
	f.wg.Wait()
	return nil
}

var _ Feed = (*WSFeed)(nil)
