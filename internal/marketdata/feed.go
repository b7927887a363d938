// Package marketdata defines the price feed consumed by the execution
// core. Ingestion and persistence of market data live outside this
// core; only the read interface is owned here.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when no price has been observed for a symbol.
var ErrNoPrice = errors.New("no price available for symbol")

// PriceTick is a single price observation.
type PriceTick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// Feed supplies prices to the paper simulator and exit supervision.
type Feed interface {
	// LatestPrice returns the most recent price for a symbol.
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Subscribe starts receiving ticks for a symbol. The channel is
	// closed when the context is cancelled or the feed shuts down.
	Subscribe(ctx context.Context, symbol string) (<-chan PriceTick, error)

	// Close shuts down the feed and releases resources.
	Close() error
}
