// Package paper provides a simulated venue for paper trading. Orders
// are matched against a supplied price feed with the same ordering and
// idempotency semantics as the live adapter.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/adapter"
	"github.com/hoangle/tradeexec/internal/marketdata"
	"github.com/hoangle/tradeexec/internal/types"
)

// Config holds paper venue configuration.
type Config struct {
	SlippagePct decimal.Decimal // applied against the taker on market fills
	FillDelay   time.Duration   // simulated venue latency before a market fill
}

// DefaultConfig returns default paper venue config.
func DefaultConfig() Config {
	return Config{
		SlippagePct: decimal.Zero,
		FillDelay:   0,
	}
}

type order struct {
	req    types.OrderRequest
	result types.OrderResult
}

// Venue implements adapter.Adapter against a price feed.
type Venue struct {
	cfg    Config
	feed   marketdata.Feed
	logger *slog.Logger

	mu          sync.Mutex
	orders      map[string]*order // venue order id -> order
	byClientID  map[string]string // client order id -> venue order id
	watched     map[string]bool   // symbols with an active tick pump
	nextOrderID atomic.Int64

	subsMu sync.Mutex
	subs   []*fillSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type fillSub struct {
	ch   chan types.FillEvent
	done <-chan struct{}
}

// New creates a paper venue matching orders against feed.
func New(cfg Config, feed marketdata.Feed, logger *slog.Logger) *Venue {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &Venue{
		cfg:        cfg,
		feed:       feed,
		logger:     logger,
		orders:     make(map[string]*order),
		byClientID: make(map[string]string),
		watched:    make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	v.nextOrderID.Store(1)
	return v
}

// Submit places an order. A resubmitted ClientOrderID returns the
// original order unchanged.
func (v *Venue) Submit(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	if existingID, ok := v.byClientID[req.ClientOrderID]; ok {
		result := v.orders[existingID].result
		v.mu.Unlock()
		return &result, nil
	}

	orderID := fmt.Sprintf("PAPER-%d", v.nextOrderID.Add(1))
	o := &order{
		req: req,
		result: types.OrderResult{
			OrderID:       orderID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Status:        types.OrderStatusNew,
			FilledQty:     decimal.Zero,
			UpdatedAt:     time.Now(),
		},
	}
	v.orders[orderID] = o
	v.byClientID[req.ClientOrderID] = orderID
	v.ensureWatchLocked(req.Symbol)
	v.mu.Unlock()

	v.logger.Debug("paper order accepted",
		"order_id", orderID,
		"client_order_id", req.ClientOrderID,
		"type", req.Type,
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Quantity,
	)

	if req.Type == types.OrderTypeMarket {
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			v.fillMarket(orderID)
		}()
	}

	result := o.result
	return &result, nil
}

// fillMarket fills a market order at the latest feed price after the
// configured delay.
func (v *Venue) fillMarket(orderID string) {
	if v.cfg.FillDelay > 0 {
		select {
		case <-v.ctx.Done():
			return
		case <-time.After(v.cfg.FillDelay):
		}
	}

	v.mu.Lock()
	o, ok := v.orders[orderID]
	if !ok || o.result.Status.IsFinal() {
		v.mu.Unlock()
		return
	}

	price, err := v.feed.LatestPrice(v.ctx, o.req.Symbol)
	if err != nil {
		o.result.Status = types.OrderStatusRejected
		o.result.UpdatedAt = time.Now()
		event := resultToFill(o.result)
		v.mu.Unlock()
		v.publish(event)
		v.logger.Warn("paper market order rejected: no price", "order_id", orderID, "symbol", o.req.Symbol)
		return
	}

	fillPrice := v.applySlippage(price, o.req.Side)
	v.completeFillLocked(o, fillPrice)
	event := resultToFill(o.result)
	v.mu.Unlock()

	v.publish(event)
}

// applySlippage moves the fill price against the taker.
func (v *Venue) applySlippage(price decimal.Decimal, side types.Side) decimal.Decimal {
	if v.cfg.SlippagePct.IsZero() {
		return price
	}
	slip := price.Mul(v.cfg.SlippagePct)
	if side == types.SideBuy {
		return price.Add(slip)
	}
	return price.Sub(slip)
}

func (v *Venue) completeFillLocked(o *order, price decimal.Decimal) {
	o.result.Status = types.OrderStatusFilled
	o.result.FilledQty = o.req.Quantity
	o.result.AvgFillPrice = price
	o.result.UpdatedAt = time.Now()
}

// ensureWatchLocked starts a tick pump for a symbol on first use.
func (v *Venue) ensureWatchLocked(symbol string) {
	if v.watched[symbol] {
		return
	}
	v.watched[symbol] = true

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ticks, err := v.feed.Subscribe(v.ctx, symbol)
		if err != nil {
			v.logger.Error("paper venue feed subscribe failed", "symbol", symbol, "err", err)
			return
		}
		for {
			select {
			case <-v.ctx.Done():
				return
			case tick, ok := <-ticks:
				if !ok {
					return
				}
				v.onPrice(tick.Symbol, tick.Price)
			}
		}
	}()
}

// onPrice matches resting limit and stop orders against a new price.
func (v *Venue) onPrice(symbol string, price decimal.Decimal) {
	var events []types.FillEvent

	v.mu.Lock()
	for _, o := range v.orders {
		if o.req.Symbol != symbol || o.result.Status.IsFinal() {
			continue
		}
		switch o.req.Type {
		case types.OrderTypeLimit:
			if limitCrossed(o.req, price) {
				v.completeFillLocked(o, o.req.Price)
				events = append(events, resultToFill(o.result))
			}
		case types.OrderTypeStopLossLimit:
			if stopTriggered(o.req, price) {
				// Fill at the stop's limit price once triggered.
				v.completeFillLocked(o, o.req.Price)
				events = append(events, resultToFill(o.result))
			}
		}
	}
	v.mu.Unlock()

	for _, e := range events {
		v.publish(e)
	}
}

func limitCrossed(req types.OrderRequest, price decimal.Decimal) bool {
	if req.Side == types.SideBuy {
		return price.LessThanOrEqual(req.Price)
	}
	return price.GreaterThanOrEqual(req.Price)
}

func stopTriggered(req types.OrderRequest, price decimal.Decimal) bool {
	// A sell stop protects a long: triggers when price falls to the
	// stop. A buy stop protects a short: triggers when price rises.
	if req.Side == types.SideSell {
		return price.LessThanOrEqual(req.StopPrice)
	}
	return price.GreaterThanOrEqual(req.StopPrice)
}

// Cancel cancels a resting order. Canceling a terminal order returns
// its current state.
func (v *Venue) Cancel(ctx context.Context, orderID string) (*types.OrderResult, error) {
	v.mu.Lock()
	o, ok := v.orders[orderID]
	if !ok {
		v.mu.Unlock()
		return nil, adapter.NewPermanentError("cancel", types.ErrOrderNotFound)
	}

	if !o.result.Status.IsFinal() {
		o.result.Status = types.OrderStatusCanceled
		o.result.UpdatedAt = time.Now()
	}
	result := o.result
	v.mu.Unlock()

	return &result, nil
}

// GetStatus returns the venue's view of an order.
func (v *Venue) GetStatus(ctx context.Context, orderID string) (*types.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.orders[orderID]
	if !ok {
		return nil, adapter.NewPermanentError("status", types.ErrOrderNotFound)
	}
	result := o.result
	return &result, nil
}

// StreamFills opens a fill event subscription.
func (v *Venue) StreamFills(ctx context.Context) (<-chan types.FillEvent, error) {
	ch := make(chan types.FillEvent, 100)
	sub := &fillSub{ch: ch, done: ctx.Done()}

	v.subsMu.Lock()
	v.subs = append(v.subs, sub)
	v.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		v.subsMu.Lock()
		defer v.subsMu.Unlock()
		remaining := v.subs[:0]
		for _, s := range v.subs {
			if s != sub {
				remaining = append(remaining, s)
			}
		}
		v.subs = remaining
		close(ch)
	}()

	return ch, nil
}

func (v *Venue) publish(event types.FillEvent) {
	v.subsMu.Lock()
	defer v.subsMu.Unlock()

	for _, sub := range v.subs {
		select {
		case <-sub.done:
		case sub.ch <- event:
		default:
			v.logger.Warn("paper venue dropped fill event: slow subscriber",
				"order_id", event.OrderID,
			)
		}
	}
}

func resultToFill(r types.OrderResult) types.FillEvent {
	return types.FillEvent{
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Status:        r.Status,
		FilledQty:     r.FilledQty,
		AvgFillPrice:  r.AvgFillPrice,
		Timestamp:     r.UpdatedAt,
	}
}

// Close stops the tick pumps and in-flight fills.
func (v *Venue) Close() error {
	v.cancel()
	v.wg.Wait()
	return nil
}

var _ adapter.Adapter = (*Venue)(nil)
