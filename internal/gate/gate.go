// Package gate mediates real-mode approval between a scored intent and
// irreversible order submission. Paper-mode intents are approved
// automatically; real-mode intents require an explicit operator
// resolution of a single-use confirmation ticket.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/alerting"
	"github.com/hoangle/tradeexec/internal/types"
)

// Config holds gate configuration.
type Config struct {
	MinConfidence     decimal.Decimal // tickets are refused below this score
	TTL               time.Duration   // pending tickets expire after this
	ResolvedRetention time.Duration   // resolved tickets stay queryable this long
}

// DefaultConfig returns a conservative default configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence:     decimal.RequireFromString("0.95"),
		TTL:               5 * time.Minute,
		ResolvedRetention: 10 * time.Minute,
	}
}

type ticket struct {
	info     types.ConfirmationTicket
	consumed bool
	resolved chan struct{} // closed on resolution or expiry
}

// Gate issues and resolves confirmation tickets.
type Gate struct {
	mu      sync.Mutex
	cfg     Config
	tickets map[string]*ticket

	alerter alerting.Alerter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a gate. alerter may be nil.
func New(cfg Config, alerter alerting.Alerter, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResolvedRetention <= 0 {
		cfg.ResolvedRetention = DefaultConfig().ResolvedRetention
	}

	return &Gate{
		cfg:     cfg,
		tickets: make(map[string]*ticket),
		alerter: alerter,
		logger:  logger,
		now:     time.Now,
	}
}

// Request creates a PENDING ticket for a real-mode intent. Intents
// below the confidence minimum are refused without creating a ticket.
func (g *Gate) Request(ctx context.Context, intent types.TradeIntent) (*types.ConfirmationTicket, error) {
	if intent.Confidence.LessThan(g.cfg.MinConfidence) {
		return nil, fmt.Errorf("%w: %s < %s",
			types.ErrConfidenceTooLow, intent.Confidence, g.cfg.MinConfidence)
	}

	now := g.now()
	tk := &ticket{
		info: types.ConfirmationTicket{
			ID:         uuid.New().String(),
			IntentID:   intent.ID,
			State:      types.TicketPending,
			Confidence: intent.Confidence,
			CreatedAt:  now,
			ExpiresAt:  now.Add(g.cfg.TTL),
		},
		resolved: make(chan struct{}),
	}

	g.mu.Lock()
	g.sweepLocked()
	g.tickets[tk.info.ID] = tk
	g.mu.Unlock()

	g.logger.Info("confirmation requested",
		"ticket_id", tk.info.ID,
		"intent_id", intent.ID,
		"symbol", intent.Symbol,
		"side", intent.Side,
		"qty", intent.Quantity,
		"confidence", intent.Confidence,
		"expires_at", tk.info.ExpiresAt,
	)

	if g.alerter != nil {
		if err := g.alerter.Alert(ctx, alerting.SeverityHigh, "Real-mode trade awaiting confirmation",
			"ticket_id", tk.info.ID,
			"symbol", intent.Symbol,
			"side", intent.Side.String(),
			"qty", intent.Quantity.String(),
			"confidence", intent.Confidence.String(),
		); err != nil {
			g.logger.Warn("failed to send confirmation alert", "err", err)
		}
	}

	info := tk.info
	return &info, nil
}

// Resolve moves a PENDING ticket to APPROVED or REJECTED. It is the
// only way a ticket becomes approved; expired tickets cannot be
// resolved.
func (g *Gate) Resolve(ticketID string, approved bool) (*types.ConfirmationTicket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tk, ok := g.tickets[ticketID]
	if !ok {
		return nil, types.ErrTicketNotFound
	}

	g.expireLocked(tk)
	if tk.info.State != types.TicketPending {
		return nil, fmt.Errorf("%w: ticket is %s", types.ErrConfirmationExpired, tk.info.State)
	}

	if approved {
		tk.info.State = types.TicketApproved
	} else {
		tk.info.State = types.TicketRejected
	}
	tk.info.ResolvedAt = g.now()
	close(tk.resolved)

	g.logger.Info("confirmation resolved",
		"ticket_id", ticketID,
		"state", tk.info.State,
	)

	info := tk.info
	return &info, nil
}

// Await blocks until the ticket resolves, expires, or ctx ends, and
// returns the final state. EXPIRED is treated as a rejection by
// callers.
func (g *Gate) Await(ctx context.Context, ticketID string) (types.TicketState, error) {
	g.mu.Lock()
	tk, ok := g.tickets[ticketID]
	if !ok {
		g.mu.Unlock()
		return "", types.ErrTicketNotFound
	}
	g.expireLocked(tk)
	state := tk.info.State
	expiresAt := tk.info.ExpiresAt
	resolved := tk.resolved
	g.mu.Unlock()

	if state != types.TicketPending {
		return state, nil
	}

	timer := time.NewTimer(expiresAt.Sub(g.now()))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-resolved:
	case <-timer.C:
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked(tk)
	return tk.info.State, nil
}

// Consume hands out an APPROVED ticket exactly once. A second consume
// of the same ticket fails, so one approval can never authorize two
// submissions.
func (g *Gate) Consume(ticketID string) (*types.ConfirmationTicket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tk, ok := g.tickets[ticketID]
	if !ok {
		return nil, types.ErrTicketNotFound
	}

	g.expireLocked(tk)
	switch {
	case tk.consumed:
		return nil, types.ErrTicketConsumed
	case tk.info.State == types.TicketExpired:
		return nil, types.ErrConfirmationExpired
	case tk.info.State == types.TicketRejected:
		return nil, types.ErrConfirmationRejected
	case tk.info.State != types.TicketApproved:
		return nil, fmt.Errorf("%w: ticket is %s", types.ErrConfirmationRejected, tk.info.State)
	}

	tk.consumed = true
	delete(g.tickets, ticketID)

	info := tk.info
	return &info, nil
}

// Get returns a ticket's current state.
func (g *Gate) Get(ticketID string) (*types.ConfirmationTicket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tk, ok := g.tickets[ticketID]
	if !ok {
		return nil, types.ErrTicketNotFound
	}
	g.expireLocked(tk)
	info := tk.info
	return &info, nil
}

// sweepLocked drops tickets that resolved longer than the retention
// ago. Rejected and expired tickets are never consumed, so without
// the sweep they would accumulate for the life of the process; the
// retention window keeps them queryable long enough for the API to
// report the outcome. Must be called with the lock held.
func (g *Gate) sweepLocked() {
	cutoff := g.now().Add(-g.cfg.ResolvedRetention)
	for id, tk := range g.tickets {
		g.expireLocked(tk)
		if tk.info.State == types.TicketPending {
			continue
		}
		if tk.info.ResolvedAt.After(cutoff) {
			continue
		}
		delete(g.tickets, id)
		g.logger.Debug("confirmation ticket swept",
			"ticket_id", id,
			"state", tk.info.State,
		)
	}
}

// expireLocked transitions an overdue PENDING ticket to EXPIRED.
// Must be called with the lock held.
func (g *Gate) expireLocked(tk *ticket) {
	if tk.info.State != types.TicketPending {
		return
	}
	if g.now().Before(tk.info.ExpiresAt) {
		return
	}

	tk.info.State = types.TicketExpired
	tk.info.ResolvedAt = g.now()
	close(tk.resolved)

	g.logger.Warn("confirmation expired",
		"ticket_id", tk.info.ID,
		"intent_id", tk.info.IntentID,
	)
}
