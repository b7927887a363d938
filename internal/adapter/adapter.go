// Package adapter abstracts order execution venues.
//
// Two implementations share this contract: a live venue client
// (adapter/venue) and a paper-trading simulator (adapter/paper). The
// lifecycle manager is implementation-agnostic; both honor idempotency
// keys so a retried submission never creates a duplicate order.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/hoangle/tradeexec/internal/types"
)

// Adapter defines the contract for an execution venue.
type Adapter interface {
	// Submit places an order. Submitting the same ClientOrderID twice
	// returns the existing order rather than creating a second one.
	Submit(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)

	// Cancel cancels an order by venue order id. Canceling an order
	// that is already terminal returns its current state, not an error.
	Cancel(ctx context.Context, orderID string) (*types.OrderResult, error)

	// GetStatus returns the venue's current view of an order.
	GetStatus(ctx context.Context, orderID string) (*types.OrderResult, error)

	// StreamFills returns a channel of fill events. The stream is
	// restartable: each call opens a fresh subscription, and the
	// channel is closed when ctx is cancelled or the connection drops.
	StreamFills(ctx context.Context) (<-chan types.FillEvent, error)

	// Close releases venue resources.
	Close() error
}

// Error is a venue or transport failure. Retryable errors may be
// retried with backoff; non-retryable ones surface immediately.
type Error struct {
	Op        string // operation that failed: "submit", "cancel", "status", "stream"
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a retryable adapter error.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Retryable: true, Err: err}
}

// NewPermanentError wraps err as a non-retryable adapter error.
func NewPermanentError(op string, err error) *Error {
	return &Error{Op: op, Retryable: false, Err: err}
}

// IsRetryable reports whether err is a retryable adapter error.
// Validation failures and business-rule rejections are never retryable.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}
