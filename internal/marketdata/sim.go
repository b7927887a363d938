package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SimFeed is an in-memory feed driven by Push calls. It backs paper
// trading and tests.
type SimFeed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	subs   map[string][]*simSub
	closed bool
}

type simSub struct {
	ch   chan PriceTick
	done <-chan struct{}
}

// NewSimFeed creates an empty simulated feed.
func NewSimFeed() *SimFeed {
	return &SimFeed{
		prices: make(map[string]decimal.Decimal),
		subs:   make(map[string][]*simSub),
	}
}

// Push records a price and fans it out to subscribers. Slow subscribers
// drop ticks rather than blocking the publisher.
func (f *SimFeed) Push(symbol string, price decimal.Decimal) {
	tick := PriceTick{Symbol: symbol, Price: price, Timestamp: time.Now()}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.prices[symbol] = price

	for _, sub := range f.subs[symbol] {
		select {
		case <-sub.done:
		case sub.ch <- tick:
		default:
		}
	}
}

// LatestPrice returns the most recent pushed price for a symbol.
func (f *SimFeed) LatestPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	price, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, ErrNoPrice
	}
	return price, nil
}

// Subscribe starts receiving ticks for a symbol.
func (f *SimFeed) Subscribe(ctx context.Context, symbol string) (<-chan PriceTick, error) {
	ch := make(chan PriceTick, 100)
	sub := &simSub{ch: ch, done: ctx.Done()}

	f.mu.Lock()
	f.subs[symbol] = append(f.subs[symbol], sub)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		remaining := f.subs[symbol][:0]
		for _, s := range f.subs[symbol] {
			if s != sub {
				remaining = append(remaining, s)
			}
		}
		f.subs[symbol] = remaining
		close(ch)
	}()

	return ch, nil
}

// Close shuts down the feed.
func (f *SimFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ Feed = (*SimFeed)(nil)
