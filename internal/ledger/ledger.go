// Package ledger tracks available capital and open exposure.
//
// Reservation is two-phase: capital is provisionally held when an
// intent is accepted, then committed to the actual filled amount or
// released on rejection. Paper and real capital are independent pools;
// the real-mode position cap is a hard precondition of Reserve.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/types"
)

// Config holds ledger configuration.
type Config struct {
	PaperBalance     decimal.Decimal
	RealBalance      decimal.Decimal
	MaxRealPositions int             // hard cap on concurrently open real positions
	MaxPositionPct   decimal.Decimal // max fraction of available capital per reservation, zero disables
}

// DefaultConfig returns a conservative default configuration.
func DefaultConfig() Config {
	return Config{
		PaperBalance:     decimal.NewFromInt(10000),
		RealBalance:      decimal.Zero,
		MaxRealPositions: 5,
		MaxPositionPct:   decimal.Zero,
	}
}

type reservationState int

const (
	stateHeld reservationState = iota
	stateCommitted
	stateClosed
)

type reservation struct {
	id     string
	mode   types.Mode
	symbol string
	amount decimal.Decimal
	state  reservationState
}

type pool struct {
	available  decimal.Decimal
	reserved   decimal.Decimal
	realizedPL decimal.Decimal
	open       int
}

// Ledger is the single owner of capital and exposure state. All
// mutation happens under one writer lock; Snapshot takes the read lock.
type Ledger struct {
	mu sync.RWMutex

	cfg          Config
	pools        map[types.Mode]*pool
	reservations map[string]*reservation

	logger *slog.Logger
}

// New creates a ledger with the configured starting balances.
func New(cfg Config, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		cfg: cfg,
		pools: map[types.Mode]*pool{
			types.ModePaper: {available: cfg.PaperBalance},
			types.ModeReal:  {available: cfg.RealBalance},
		},
		reservations: make(map[string]*reservation),
		logger:       logger,
	}
}

// Reserve provisionally holds capital for an intent. The real-mode
// position cap is enforced here, before any capital moves, so a
// rejected intent never holds a partial reservation.
func (l *Ledger) Reserve(mode types.Mode, symbol string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: reservation amount must be positive", types.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.pools[mode]

	if mode == types.ModeReal && p.open >= l.cfg.MaxRealPositions {
		return "", fmt.Errorf("%w: %d real positions open (cap %d)",
			types.ErrExposureLimitExceeded, p.open, l.cfg.MaxRealPositions)
	}

	if !l.cfg.MaxPositionPct.IsZero() {
		maxSize := p.available.Add(p.reserved).Mul(l.cfg.MaxPositionPct)
		if amount.GreaterThan(maxSize) {
			return "", fmt.Errorf("%w: reservation %s exceeds per-position limit %s",
				types.ErrExposureLimitExceeded, amount, maxSize)
		}
	}

	if amount.GreaterThan(p.available) {
		return "", fmt.Errorf("%w: requested %s, available %s",
			types.ErrInsufficientCapital, amount, p.available)
	}

	id := uuid.New().String()
	l.reservations[id] = &reservation{
		id:     id,
		mode:   mode,
		symbol: symbol,
		amount: amount,
		state:  stateHeld,
	}
	p.available = p.available.Sub(amount)
	p.reserved = p.reserved.Add(amount)
	p.open++

	l.logger.Debug("capital reserved",
		"reservation_id", id,
		"mode", mode,
		"symbol", symbol,
		"amount", amount,
		"available", p.available,
	)

	return id, nil
}

// Commit narrows a held reservation to the actually filled amount and
// returns the unfilled remainder to the pool. Committing more than was
// reserved violates the core capital invariant and is rejected.
func (l *Ledger) Commit(reservationID string, actual decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok || r.state == stateClosed {
		return types.ErrReservationNotFound
	}
	if actual.GreaterThan(r.amount) {
		return fmt.Errorf("%w: committed %s, reserved %s",
			types.ErrReservationExceeded, actual, r.amount)
	}
	if actual.IsNegative() {
		return fmt.Errorf("%w: commit amount must not be negative", types.ErrValidation)
	}

	p := l.pools[r.mode]
	remainder := r.amount.Sub(actual)
	p.reserved = p.reserved.Sub(remainder)
	p.available = p.available.Add(remainder)
	r.amount = actual
	r.state = stateCommitted

	l.logger.Debug("capital committed",
		"reservation_id", reservationID,
		"committed", actual,
		"returned", remainder,
	)

	return nil
}

// Release returns a reservation's full remaining hold to the pool.
// Used when an intent is rejected or a position never opened.
func (l *Ledger) Release(reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok || r.state == stateClosed {
		return types.ErrReservationNotFound
	}

	p := l.pools[r.mode]
	p.reserved = p.reserved.Sub(r.amount)
	p.available = p.available.Add(r.amount)
	p.open--
	r.state = stateClosed
	delete(l.reservations, reservationID)

	l.logger.Debug("capital released", "reservation_id", reservationID, "amount", r.amount)

	return nil
}

// RecordClose settles a committed reservation with the realized P&L of
// its closed position. The original capital plus P&L returns to the
// pool and the open-position count drops.
func (l *Ledger) RecordClose(reservationID string, realizedPL decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok || r.state == stateClosed {
		return types.ErrReservationNotFound
	}

	p := l.pools[r.mode]
	p.reserved = p.reserved.Sub(r.amount)
	p.available = p.available.Add(r.amount).Add(realizedPL)
	p.realizedPL = p.realizedPL.Add(realizedPL)
	p.open--
	r.state = stateClosed
	delete(l.reservations, reservationID)

	l.logger.Info("position settled",
		"reservation_id", reservationID,
		"mode", r.mode,
		"symbol", r.symbol,
		"realized_pl", realizedPL,
		"available", p.available,
	)

	return nil
}

// Reserved returns the amount currently held by a reservation, and
// whether the reservation exists.
func (l *Ledger) Reserved(reservationID string) (decimal.Decimal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return decimal.Zero, false
	}
	return r.amount, true
}

// Snapshot returns a point-in-time view of one mode's capital.
func (l *Ledger) Snapshot(mode types.Mode) types.CapitalSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p := l.pools[mode]
	return types.CapitalSnapshot{
		Timestamp:         time.Now(),
		Mode:              mode,
		Available:         p.available,
		Reserved:          p.reserved,
		RealizedPL:        p.realizedPL,
		OpenPositions:     p.open,
		OpenRealPositions: l.pools[types.ModeReal].open,
	}
}
