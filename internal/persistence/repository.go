// Package persistence provides durable storage for positions,
// confirmation audit records, and capital snapshots.
package persistence

import (
	"context"
	"time"

	"github.com/hoangle/tradeexec/internal/types"
)

// Repository defines the interface for state persistence.
type Repository interface {
	// Position operations
	SavePosition(ctx context.Context, position types.Position) error
	GetPosition(ctx context.Context, id string) (*types.Position, error)
	GetNonTerminalPositions(ctx context.Context) ([]types.Position, error)
	GetPositionsSince(ctx context.Context, from time.Time) ([]types.Position, error)

	// Confirmation audit: every ticket and resolution is recorded.
	SaveConfirmation(ctx context.Context, ticket types.ConfirmationTicket) error
	GetConfirmations(ctx context.Context, from, to time.Time) ([]types.ConfirmationTicket, error)

	// Capital snapshots
	SaveCapitalSnapshot(ctx context.Context, snapshot types.CapitalSnapshot) error
	GetLatestCapitalSnapshot(ctx context.Context, mode types.Mode) (*types.CapitalSnapshot, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
