// Package orchestrator coordinates concurrent positions: it accepts
// trade intents, holds the acceptance pipeline together (validation,
// capital reservation, confirmation), supervises lifecycle managers,
// and reconciles ledger reservations on every terminal transition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/adapter"
	"github.com/hoangle/tradeexec/internal/alerting"
	"github.com/hoangle/tradeexec/internal/gate"
	"github.com/hoangle/tradeexec/internal/ledger"
	"github.com/hoangle/tradeexec/internal/lifecycle"
	"github.com/hoangle/tradeexec/internal/marketdata"
	"github.com/hoangle/tradeexec/internal/metrics"
	"github.com/hoangle/tradeexec/internal/persistence"
	"github.com/hoangle/tradeexec/internal/types"
)

// Config holds orchestrator settings.
type Config struct {
	Lifecycle           lifecycle.Config
	ConfirmationTimeout time.Duration // how long Accept waits for an operator
	StreamRestartDelay  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Lifecycle:           lifecycle.DefaultConfig(),
		ConfirmationTimeout: 5 * time.Minute,
		StreamRestartDelay:  2 * time.Second,
	}
}

type managed struct {
	manager       *lifecycle.Manager
	reservationID string
}

// Orchestrator supervises all active positions.
type Orchestrator struct {
	cfg      Config
	venue    adapter.Adapter
	feed     marketdata.Feed
	ledger   *ledger.Ledger
	gate     *gate.Gate
	repo     persistence.Repository
	recorder *metrics.Recorder
	alerter  alerting.Alerter
	logger   *slog.Logger

	mu       sync.RWMutex
	managers map[string]*managed
	resumed  []string // positions re-attached by Recover, supervised at Start

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// New creates an orchestrator. alerter and recorder may be nil.
func New(
	cfg Config,
	venue adapter.Adapter,
	feed marketdata.Feed,
	led *ledger.Ledger,
	g *gate.Gate,
	repo persistence.Repository,
	recorder *metrics.Recorder,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfig().ConfirmationTimeout
	}
	if cfg.StreamRestartDelay <= 0 {
		cfg.StreamRestartDelay = DefaultConfig().StreamRestartDelay
	}
	return &Orchestrator{
		cfg:      cfg,
		venue:    venue,
		feed:     feed,
		ledger:   led,
		gate:     g,
		repo:     repo,
		recorder: recorder,
		alerter:  alerter,
		logger:   logger,
		managers: make(map[string]*managed),
	}
}

// Start launches the fill router and picks up supervision of positions
// re-attached during recovery. It must be called before Accept.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	o.runCtx, o.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	o.started = true
	resumed := o.resumed
	o.resumed = nil
	o.mu.Unlock()

	o.wg.Add(1)
	go o.routeFills()

	for _, id := range resumed {
		o.mu.RLock()
		m := o.managers[id]
		o.mu.RUnlock()
		if m == nil {
			continue
		}
		o.wg.Add(1)
		go o.supervise(m.manager, id, m.reservationID)
	}

	o.logger.Info("orchestrator started", "resumed_positions", len(resumed))
	return nil
}

// Stop shuts down gracefully: positions still waiting on their entry
// are canceled, open positions keep their venue-held exit brackets and
// are picked up by recovery on the next start.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.RLock()
	for _, m := range o.managers {
		if s := m.manager.Position().Status; s == types.PositionPendingEntry || s == types.PositionEntryPartiallyFilled {
			m.manager.RequestCancel()
		}
	}
	o.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	// Give entry cancels a bounded window, then cut the run context so
	// open positions park non-terminal for recovery.
	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
	o.runCancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.logger.Info("orchestrator stopped")
	return nil
}

// Accept runs the acceptance pipeline for one intent and, on success,
// spawns a lifecycle manager bound to a fresh reservation and (for
// real mode) a consumed APPROVED ticket.
func (o *Orchestrator) Accept(ctx context.Context, intent types.TradeIntent) (string, error) {
	if err := intent.Validate(); err != nil {
		o.reject("validation")
		return "", err
	}

	cost, err := o.intentCost(ctx, intent)
	if err != nil {
		o.reject("no_price")
		return "", err
	}

	reservationID, err := o.ledger.Reserve(intent.Mode, intent.Symbol, cost)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrInsufficientCapital):
			o.reject("insufficient_capital")
		case errors.Is(err, types.ErrExposureLimitExceeded):
			o.reject("exposure_limit")
		default:
			o.reject("reserve")
		}
		return "", err
	}

	if intent.Mode == types.ModeReal {
		if err := o.confirm(ctx, intent); err != nil {
			if rerr := o.ledger.Release(reservationID); rerr != nil {
				o.logger.Error("release after gate rejection", "error", rerr)
			}
			return "", err
		}
	}

	pos := types.Position{
		ID:        uuid.NewString(),
		IntentID:  intent.ID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Mode:      intent.Mode,
		Status:    types.PositionPendingEntry,
		Quantity:  intent.Quantity,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.repo.SavePosition(ctx, pos); err != nil {
		if rerr := o.ledger.Release(reservationID); rerr != nil {
			o.logger.Error("release after persist failure", "error", rerr)
		}
		return "", fmt.Errorf("persist position: %w", err)
	}

	mgr := lifecycle.New(o.cfg.Lifecycle, o.venue, pos, intent.EntryHint, o.logger)

	o.mu.Lock()
	o.managers[pos.ID] = &managed{manager: mgr, reservationID: reservationID}
	o.mu.Unlock()

	o.wg.Add(1)
	go o.supervise(mgr, pos.ID, reservationID)

	if o.recorder != nil {
		o.recorder.RecordIntentAccepted(intent.Mode)
		o.recorder.RecordPositionOpened(intent.Mode)
	}
	o.logger.Info("intent accepted",
		"intent_id", intent.ID,
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"mode", pos.Mode.String(),
		"reserved", cost,
	)
	return pos.ID, nil
}

// confirm runs the real-mode gate: request a ticket, block until the
// operator resolves it (or it expires), then consume the approval
// exactly once.
func (o *Orchestrator) confirm(ctx context.Context, intent types.TradeIntent) error {
	ticket, err := o.gate.Request(ctx, intent)
	if err != nil {
		o.reject("confidence_too_low")
		return err
	}
	o.auditTicket(ctx, *ticket)

	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmationTimeout)
	defer cancel()

	state, err := o.gate.Await(waitCtx, ticket.ID)
	if err != nil {
		o.reject("confirmation_timeout")
		return fmt.Errorf("%w: await confirmation: %v", types.ErrConfirmationExpired, err)
	}
	if final, gerr := o.gate.Get(ticket.ID); gerr == nil {
		o.auditTicket(ctx, *final)
	}
	if o.recorder != nil {
		o.recorder.RecordConfirmation(state)
	}

	if _, err := o.gate.Consume(ticket.ID); err != nil {
		switch {
		case errors.Is(err, types.ErrConfirmationExpired):
			o.reject("confirmation_expired")
		default:
			o.reject("confirmation_rejected")
		}
		return err
	}
	return nil
}

// auditTicket persists a confirmation audit record; audit failures are
// logged, never block the pipeline.
func (o *Orchestrator) auditTicket(ctx context.Context, t types.ConfirmationTicket) {
	if err := o.repo.SaveConfirmation(ctx, t); err != nil {
		o.logger.Error("persist confirmation audit", "ticket_id", t.ID, "error", err)
	}
}

func (o *Orchestrator) reject(reason string) {
	if o.recorder != nil {
		o.recorder.RecordIntentRejected(reason)
	}
}

// intentCost prices the capital required for an intent: the entry hint
// when present, the latest feed price otherwise.
func (o *Orchestrator) intentCost(ctx context.Context, intent types.TradeIntent) (decimal.Decimal, error) {
	price := intent.EntryHint
	if !price.IsPositive() {
		p, err := o.feed.LatestPrice(ctx, intent.Symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("price intent %s: %w", intent.ID, err)
		}
		price = p
	}
	return price.Mul(intent.Quantity), nil
}

// supervise runs one manager to completion and reconciles its
// reservation. A panicking manager must not corrupt the ledger: the
// true order state is re-queried from the venue before any capital
// moves.
func (o *Orchestrator) supervise(mgr *lifecycle.Manager, positionID, reservationID string) {
	defer o.wg.Done()

	var pos types.Position
	var runErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("lifecycle manager panicked",
					"position_id", positionID,
					"panic", r,
				)
				pos, runErr = o.reconcilePanicked(mgr.Position())
			}
		}()
		pos, runErr = mgr.Run(o.runCtx)
	}()

	o.mu.Lock()
	delete(o.managers, positionID)
	o.mu.Unlock()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		o.logger.Error("lifecycle run error", "position_id", positionID, "error", runErr)
		if o.recorder != nil {
			o.recorder.RecordError("lifecycle")
		}
		o.alert(alerting.SeverityCritical, "Position run error",
			"position_id", positionID,
			"error", runErr.Error(),
		)
	}

	o.finalize(pos, reservationID)
}

// reconcilePanicked derives the safest terminal view of a position
// whose manager died: whatever the venue confirms as filled is treated
// as exposure, anything else is released.
func (o *Orchestrator) reconcilePanicked(pos types.Position) (types.Position, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if pos.EntryOrderID != "" {
		if res, err := o.venue.GetStatus(ctx, pos.EntryOrderID); err == nil {
			if res.FilledQty.GreaterThan(pos.FilledQty) {
				pos.FilledQty = res.FilledQty
			}
			if res.AvgFillPrice.IsPositive() {
				pos.AvgEntryPrice = res.AvgFillPrice
			}
		} else {
			pos.Status = types.PositionFailed
			pos.ExitReason = "manager panic, venue unreachable"
			return pos, fmt.Errorf("%w: %v", types.ErrReconciliation, err)
		}
	}

	pos.Status = types.PositionFailed
	pos.ExitReason = "manager panic"
	return pos, nil
}

// finalize persists the terminal position and settles the ledger:
// filled exposure is committed and closed with its P&L, anything else
// is released in full.
func (o *Orchestrator) finalize(pos types.Position, reservationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.repo.SavePosition(ctx, pos); err != nil {
		o.logger.Error("persist terminal position", "position_id", pos.ID, "error", err)
	}

	if !pos.Status.IsTerminal() {
		// Interrupted run: the reservation stays held and recovery
		// settles it on the next start.
		o.logger.Info("position parked for recovery",
			"position_id", pos.ID,
			"status", pos.Status,
		)
		return
	}

	if pos.FilledQty.IsPositive() {
		actual := pos.AvgEntryPrice.Mul(pos.FilledQty)
		if err := o.ledger.Commit(reservationID, actual); err != nil {
			o.logger.Error("commit reservation", "position_id", pos.ID, "error", err)
		}
		if err := o.ledger.RecordClose(reservationID, pos.RealizedPL); err != nil {
			o.logger.Error("settle reservation", "position_id", pos.ID, "error", err)
		}
	} else {
		if err := o.ledger.Release(reservationID); err != nil {
			o.logger.Error("release reservation", "position_id", pos.ID, "error", err)
		}
	}

	if o.recorder != nil {
		o.recorder.RecordCapital(o.ledger.Snapshot(pos.Mode))
	}

	switch pos.Status {
	case types.PositionClosed:
		if o.recorder != nil {
			o.recorder.RecordPositionClosed(pos.Mode)
		}
		o.alert(alerting.EventSeverity(alerting.EventPositionClosed), "Position closed",
			"position_id", pos.ID,
			"symbol", pos.Symbol,
			"reason", pos.ExitReason,
			"realized_pl", pos.RealizedPL.String(),
		)
	case types.PositionFailed:
		o.alert(alerting.EventSeverity(alerting.EventPositionFailed), "Position failed",
			"position_id", pos.ID,
			"symbol", pos.Symbol,
			"reason", pos.ExitReason,
		)
	}
}

func (o *Orchestrator) alert(severity alerting.Severity, msg string, fields ...any) {
	if o.alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.alerter.Alert(ctx, severity, msg, fields...); err != nil {
		o.logger.Warn("alert failed", "error", err)
	}
}

// GetPosition returns the live view of an active position or the
// persisted view of a finished one.
func (o *Orchestrator) GetPosition(ctx context.Context, id string) (*types.Position, error) {
	o.mu.RLock()
	m, ok := o.managers[id]
	o.mu.RUnlock()
	if ok {
		pos := m.manager.Position()
		return &pos, nil
	}
	return o.repo.GetPosition(ctx, id)
}

// CancelPosition requests a cooperative cancel of an active position.
func (o *Orchestrator) CancelPosition(ctx context.Context, id string) error {
	o.mu.RLock()
	m, ok := o.managers[id]
	o.mu.RUnlock()
	if ok {
		m.manager.RequestCancel()
		return nil
	}

	pos, err := o.repo.GetPosition(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: position is %s", types.ErrPositionTerminal, pos.Status)
}

// ResolveConfirmation applies an operator decision to a ticket and
// records the outcome.
func (o *Orchestrator) ResolveConfirmation(ctx context.Context, ticketID string, approved bool) (*types.ConfirmationTicket, error) {
	ticket, err := o.gate.Resolve(ticketID, approved)
	if err != nil {
		return nil, err
	}
	o.auditTicket(ctx, *ticket)
	return ticket, nil
}

// GetConfirmation returns the current state of a confirmation ticket.
func (o *Orchestrator) GetConfirmation(ticketID string) (*types.ConfirmationTicket, error) {
	return o.gate.Get(ticketID)
}

// Capital returns the current ledger snapshot for a mode.
func (o *Orchestrator) Capital(mode types.Mode) types.CapitalSnapshot {
	return o.ledger.Snapshot(mode)
}

// ActivePositions returns the live positions under supervision.
func (o *Orchestrator) ActivePositions() []types.Position {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.Position, 0, len(o.managers))
	for _, m := range o.managers {
		out = append(out, m.manager.Position())
	}
	return out
}

// routeFills consumes the venue fill stream and dispatches events to
// the owning manager by the position-id prefix of the idempotency key.
// The stream is restarted whenever it drops.
func (o *Orchestrator) routeFills() {
	defer o.wg.Done()

	for {
		if o.runCtx.Err() != nil {
			return
		}

		stream, err := o.venue.StreamFills(o.runCtx)
		if err != nil {
			o.logger.Error("open fill stream", "error", err)
			if !o.sleepRestart() {
				return
			}
			continue
		}

		for ev := range stream {
			o.dispatch(ev)
		}

		if o.runCtx.Err() != nil {
			return
		}
		o.logger.Warn("fill stream dropped, restarting")
		if o.recorder != nil {
			o.recorder.RecordStreamRestart()
		}
		o.alert(alerting.EventSeverity(alerting.EventStreamLost), "Fill stream dropped, reconnecting")
		if !o.sleepRestart() {
			return
		}
	}
}

func (o *Orchestrator) sleepRestart() bool {
	select {
	case <-o.runCtx.Done():
		return false
	case <-time.After(o.cfg.StreamRestartDelay):
		return true
	}
}

func (o *Orchestrator) dispatch(ev types.FillEvent) {
	positionID, ok := positionIDFromClientOrderID(ev.ClientOrderID)
	if !ok {
		return
	}

	o.mu.RLock()
	m, found := o.managers[positionID]
	o.mu.RUnlock()
	if !found {
		// Fills for recovered or foreign orders; recovery re-queries.
		o.logger.Debug("fill for unmanaged position",
			"client_order_id", ev.ClientOrderID,
		)
		return
	}
	m.manager.Deliver(ev)

	if o.recorder != nil && ev.Status.IsFinal() {
		if role, ok := roleFromClientOrderID(ev.ClientOrderID); ok {
			o.recorder.RecordOrder(role, ev.Status)
		}
	}
}

// Idempotency keys are "<positionID>-<role>" with an optional chase
// suffix on the entry.
var roleSuffixes = []struct {
	suffix string
	role   types.OrderRole
}{
	{"-" + string(types.RoleEntry) + "-chase", types.RoleEntry},
	{"-" + string(types.RoleEntry), types.RoleEntry},
	{"-" + string(types.RoleStopLoss), types.RoleStopLoss},
	{"-" + string(types.RoleTakeProfit), types.RoleTakeProfit},
	{"-" + string(types.RoleClose), types.RoleClose},
}

func positionIDFromClientOrderID(clientID string) (string, bool) {
	for _, rs := range roleSuffixes {
		if strings.HasSuffix(clientID, rs.suffix) {
			return strings.TrimSuffix(clientID, rs.suffix), true
		}
	}
	return "", false
}

func roleFromClientOrderID(clientID string) (types.OrderRole, bool) {
	for _, rs := range roleSuffixes {
		if strings.HasSuffix(clientID, rs.suffix) {
			return rs.role, true
		}
	}
	return "", false
}
