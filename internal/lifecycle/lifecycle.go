// Package lifecycle drives a single position through its state machine,
// from entry submission to a terminal state.
//
// One Manager owns one Position. Fill events are delivered by the
// orchestrator's fill router; the manager reacts at well-defined
// suspension points and never holds shared locks across venue I/O.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/adapter"
	"github.com/hoangle/tradeexec/internal/types"
)

// PartialFillPolicy controls what happens to the unfilled remainder of
// an entry order when the entry timeout elapses with a partial fill.
type PartialFillPolicy string

const (
	// PartialCancelRemainder cancels the remainder and opens the
	// position with the filled quantity.
	PartialCancelRemainder PartialFillPolicy = "cancel_remainder"
	// PartialKeepOpen leaves the entry order resting until it fills
	// or the position is canceled.
	PartialKeepOpen PartialFillPolicy = "keep_open"
	// PartialResubmit cancels the remainder and chases it once with a
	// market order.
	PartialResubmit PartialFillPolicy = "resubmit"
)

// Exit reasons recorded on closed positions.
const (
	ReasonStopLoss    = "stop_loss"
	ReasonTakeProfit  = "take_profit"
	ReasonManualClose = "manual_close"
	ReasonUnwind      = "unwind"
)

// Config holds lifecycle manager settings.
type Config struct {
	StopLossPct       decimal.Decimal // distance below entry for the stop, e.g. 0.10
	TakeProfitPct     decimal.Decimal // distance above entry for the target, e.g. 0.05
	EntryTimeout      time.Duration
	ExitTimeout       time.Duration // wait bound for close-order fills
	PartialFillPolicy PartialFillPolicy
	MaxRetries        int
	RetryBackoff      time.Duration
}

// DefaultConfig returns sensible lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		StopLossPct:       decimal.NewFromFloat(0.10),
		TakeProfitPct:     decimal.NewFromFloat(0.05),
		EntryTimeout:      2 * time.Minute,
		ExitTimeout:       30 * time.Second,
		PartialFillPolicy: PartialCancelRemainder,
		MaxRetries:        3,
		RetryBackoff:      500 * time.Millisecond,
	}
}

// Manager owns one position for its lifetime.
type Manager struct {
	cfg       Config
	venue     adapter.Adapter
	logger    *slog.Logger
	fills     chan types.FillEvent
	cancelc   chan struct{}
	entryHint decimal.Decimal

	mu         sync.RWMutex
	pos        types.Position
	cancelOnce sync.Once
}

// New creates a manager for a position. A PENDING_ENTRY position is
// driven from entry submission; an OPEN position (recovered with its
// bracket resting, or before the bracket went out) resumes at the exit
// phase. A positive entryHint makes the entry a limit order at that
// price; zero means market.
func New(cfg Config, venue adapter.Adapter, pos types.Position, entryHint decimal.Decimal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = DefaultConfig().EntryTimeout
	}
	if cfg.ExitTimeout <= 0 {
		cfg.ExitTimeout = DefaultConfig().ExitTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.PartialFillPolicy == "" {
		cfg.PartialFillPolicy = PartialCancelRemainder
	}
	return &Manager{
		cfg:       cfg,
		venue:     venue,
		logger:    logger.With("position_id", pos.ID, "symbol", pos.Symbol),
		fills:     make(chan types.FillEvent, 32),
		cancelc:   make(chan struct{}),
		entryHint: entryHint,
		pos:       pos,
	}
}

// Position returns a copy of the current position state.
func (m *Manager) Position() types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pos
}

// Deliver hands a fill event to the manager. It never blocks; if the
// manager's buffer is full the event is dropped and the manager relies
// on status re-queries at its next timeout.
func (m *Manager) Deliver(ev types.FillEvent) {
	select {
	case m.fills <- ev:
	default:
		m.logger.Warn("fill buffer full, dropping event",
			"client_order_id", ev.ClientOrderID,
			"status", ev.Status,
		)
	}
}

// RequestCancel signals a cooperative cancel. Before the entry fills
// the position is canceled outright; after, the request degrades to an
// immediate market close.
func (m *Manager) RequestCancel() {
	m.cancelOnce.Do(func() { close(m.cancelc) })
}

// Run drives the position to a terminal state and returns it. A nil
// error with a terminal position is the normal outcome; a non-nil
// error means the run was interrupted (ctx) or venue state could not
// be fully reconciled.
func (m *Manager) Run(ctx context.Context) (types.Position, error) {
	if m.Position().Status != types.PositionOpen {
		if err := m.runEntry(ctx); err != nil || m.Position().Status.IsTerminal() {
			return m.Position(), err
		}
	}
	err := m.runExits(ctx)
	return m.Position(), err
}

// update mutates the position under the write lock.
func (m *Manager) update(fn func(p *types.Position)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.pos)
}

func (m *Manager) setStatus(s types.PositionStatus) {
	m.update(func(p *types.Position) {
		p.Status = s
		if s.IsTerminal() {
			p.ClosedAt = time.Now().UTC()
		}
	})
	m.logger.Info("position status changed", "status", s)
}

// entryRequest builds the entry order for the position: a limit order
// when the intent carried an entry hint, a market order otherwise.
func (m *Manager) entryRequest(p types.Position, hint decimal.Decimal) types.OrderRequest {
	req := types.OrderRequest{
		ClientOrderID: types.ClientOrderID(p.ID, types.RoleEntry),
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          types.OrderTypeMarket,
		Quantity:      p.Quantity,
		TimeInForce:   types.TimeInForceGTC,
	}
	if hint.IsPositive() {
		req.Type = types.OrderTypeLimit
		req.Price = hint
	}
	return req
}

// runEntry submits the entry order and waits for it to fill, time out,
// or be canceled.
func (m *Manager) runEntry(ctx context.Context) error {
	pos := m.Position()

	res, err := m.submitWithRetry(ctx, m.entryRequest(pos, m.entryHint))
	if err != nil {
		m.update(func(p *types.Position) {
			p.ExitReason = fmt.Sprintf("entry submit: %v", err)
		})
		m.setStatus(types.PositionFailed)
		return nil
	}
	m.update(func(p *types.Position) {
		p.EntryOrderID = res.OrderID
	})
	m.applyEntryResult(res)
	if m.Position().Status == types.PositionOpen {
		return nil
	}

	timer := time.NewTimer(m.cfg.EntryTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-m.cancelc:
			return m.cancelEntry(ctx)

		case ev := <-m.fills:
			if ev.ClientOrderID != types.ClientOrderID(pos.ID, types.RoleEntry) {
				continue
			}
			m.applyEntryFill(ev)
			switch m.Position().Status {
			case types.PositionOpen:
				return nil
			case types.PositionFailed:
				return nil
			}

		case <-timer.C:
			done, err := m.handleEntryTimeout(ctx)
			if done || err != nil {
				return err
			}
			// Remainder kept or chased; keep waiting.
			timer.Reset(m.cfg.EntryTimeout)
		}
	}
}

// applyEntryResult folds the submit response in, in case the venue
// filled synchronously.
func (m *Manager) applyEntryResult(res *types.OrderResult) {
	if res.FilledQty.IsPositive() || res.Status.IsFinal() {
		m.applyEntryFill(types.FillEvent{
			OrderID:       res.OrderID,
			ClientOrderID: res.ClientOrderID,
			Symbol:        res.Symbol,
			Side:          res.Side,
			Status:        res.Status,
			FilledQty:     res.FilledQty,
			AvgFillPrice:  res.AvgFillPrice,
			Timestamp:     res.UpdatedAt,
		})
	}
}

// applyEntryFill updates fill progress and transitions the state.
func (m *Manager) applyEntryFill(ev types.FillEvent) {
	m.update(func(p *types.Position) {
		if ev.FilledQty.GreaterThan(p.FilledQty) {
			p.FilledQty = ev.FilledQty
		}
		if ev.AvgFillPrice.IsPositive() {
			p.AvgEntryPrice = ev.AvgFillPrice
		}
	})

	switch ev.Status {
	case types.OrderStatusFilled:
		m.setStatus(types.PositionOpen)
	case types.OrderStatusPartiallyFilled:
		if m.Position().Status == types.PositionPendingEntry {
			m.setStatus(types.PositionEntryPartiallyFilled)
		}
	case types.OrderStatusRejected, types.OrderStatusExpired:
		m.update(func(p *types.Position) {
			p.ExitReason = fmt.Sprintf("entry %s", ev.Status)
		})
		m.setStatus(types.PositionFailed)
	case types.OrderStatusCanceled:
		// Cancel paths set their own terminal state.
	}
}

// handleEntryTimeout is called when the entry wait expires. It returns
// done=true once the entry phase is settled (terminal or OPEN).
func (m *Manager) handleEntryTimeout(ctx context.Context) (bool, error) {
	pos := m.Position()

	// Confirm via status before acting: the fill may have raced the
	// timer.
	res, err := m.statusWithRetry(ctx, pos.EntryOrderID)
	if err == nil {
		m.applyEntryFill(resultToFill(res))
		pos = m.Position()
		if pos.Status == types.PositionOpen || pos.Status.IsTerminal() {
			return true, nil
		}
	}

	if !pos.FilledQty.IsPositive() {
		// Nothing filled: cancel and fail, unless the cancel reveals a
		// racing fill.
		res, cerr := m.venue.Cancel(ctx, pos.EntryOrderID)
		if cerr == nil && res.Status == types.OrderStatusFilled {
			m.applyEntryFill(resultToFill(res))
			return true, nil
		}
		m.update(func(p *types.Position) {
			p.ExitReason = types.ErrEntryTimeout.Error()
		})
		m.setStatus(types.PositionFailed)
		return true, nil
	}

	switch m.cfg.PartialFillPolicy {
	case PartialKeepOpen:
		return false, nil

	case PartialResubmit:
		if _, err := m.venue.Cancel(ctx, pos.EntryOrderID); err != nil && !adapter.IsRetryable(err) {
			m.logger.Warn("cancel partial entry failed", "error", err)
		}
		remainder := pos.Quantity.Sub(pos.FilledQty)
		res, err := m.submitWithRetry(ctx, types.OrderRequest{
			ClientOrderID: types.ClientOrderID(pos.ID, types.RoleEntry) + "-chase",
			Symbol:        pos.Symbol,
			Side:          pos.Side,
			Type:          types.OrderTypeMarket,
			Quantity:      remainder,
			TimeInForce:   types.TimeInForceIOC,
		})
		if err != nil {
			m.logger.Warn("chase order failed, opening with filled quantity", "error", err)
			m.openWithFilledQty()
			return true, nil
		}
		m.update(func(p *types.Position) {
			if res.FilledQty.IsPositive() {
				// Blend the chase fill into the average entry price.
				notional := p.AvgEntryPrice.Mul(p.FilledQty).Add(res.AvgFillPrice.Mul(res.FilledQty))
				p.FilledQty = p.FilledQty.Add(res.FilledQty)
				p.AvgEntryPrice = notional.Div(p.FilledQty)
			}
		})
		m.openWithFilledQty()
		return true, nil

	default: // PartialCancelRemainder
		if _, err := m.venue.Cancel(ctx, pos.EntryOrderID); err != nil && !adapter.IsRetryable(err) {
			m.logger.Warn("cancel partial entry failed", "error", err)
		}
		m.openWithFilledQty()
		return true, nil
	}
}

// openWithFilledQty opens the position sized to whatever filled.
func (m *Manager) openWithFilledQty() {
	m.update(func(p *types.Position) {
		p.Quantity = p.FilledQty
	})
	m.setStatus(types.PositionOpen)
}

// cancelEntry handles a cooperative cancel before the entry has fully
// filled. A racing fill degrades the cancel to a market close.
func (m *Manager) cancelEntry(ctx context.Context) error {
	pos := m.Position()

	res, err := m.venue.Cancel(ctx, pos.EntryOrderID)
	if err != nil {
		res, err = m.statusWithRetry(ctx, pos.EntryOrderID)
		if err != nil {
			m.update(func(p *types.Position) {
				p.ExitReason = "cancel unreconciled"
			})
			m.setStatus(types.PositionFailed)
			return fmt.Errorf("%w: cancel entry %s: %v", types.ErrReconciliation, pos.EntryOrderID, err)
		}
	}
	m.applyEntryFill(resultToFill(res))

	pos = m.Position()
	if pos.FilledQty.IsPositive() {
		// Exposure exists: unwind it at market before going terminal.
		m.update(func(p *types.Position) { p.Quantity = p.FilledQty })
		if pos.Status != types.PositionOpen {
			m.setStatus(types.PositionOpen)
		}
		return m.closeAtMarket(ctx, ReasonManualClose, types.PositionClosed)
	}

	m.setStatus(types.PositionCanceled)
	return nil
}

// exitPrices derives the bracket prices from the average entry.
func exitPrices(side types.Side, entry, stopPct, tpPct decimal.Decimal) (stop, target decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if side == types.SideBuy {
		stop = entry.Mul(one.Sub(stopPct))
		target = entry.Mul(one.Add(tpPct))
		return stop, target
	}
	stop = entry.Mul(one.Add(stopPct))
	target = entry.Mul(one.Sub(tpPct))
	return stop, target
}

// runExits places the linked stop/take-profit pair (unless a resumed
// position already has one resting) and waits for one of them to fire,
// then cancels the sibling (OCO).
func (m *Manager) runExits(ctx context.Context) error {
	if m.Position().StopOrderID == "" {
		if err := m.placeBracket(ctx); err != nil {
			return err
		}
		if m.Position().Status.IsTerminal() {
			return nil
		}
	}

	pos := m.Position()
	slKey := types.ClientOrderID(pos.ID, types.RoleStopLoss)
	tpKey := types.ClientOrderID(pos.ID, types.RoleTakeProfit)

	// Delivered events can be dropped (full buffer) or lost in a stream
	// reconnect gap, so the wait is backstopped by periodic status
	// re-queries of both legs.
	ticker := time.NewTicker(m.cfg.ExitTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-m.cancelc:
			return m.manualClose(ctx)

		case ev := <-m.fills:
			done, err := m.handleExitEvent(ctx, ev, slKey, tpKey)
			if done || err != nil {
				return err
			}

		case <-ticker.C:
			ev, ok := m.pollExitLegs(ctx)
			if !ok {
				continue
			}
			done, err := m.handleExitEvent(ctx, ev, slKey, tpKey)
			if done || err != nil {
				return err
			}
		}
	}
}

// placeBracket derives the exit prices from the average entry and
// submits the stop-loss and take-profit pair. Failure to protect the
// position flattens it immediately.
func (m *Manager) placeBracket(ctx context.Context) error {
	pos := m.Position()
	stop, target := exitPrices(pos.Side, pos.AvgEntryPrice, m.cfg.StopLossPct, m.cfg.TakeProfitPct)
	exitSide := pos.Side.Opposite()

	slRes, err := m.submitWithRetry(ctx, types.OrderRequest{
		ClientOrderID: types.ClientOrderID(pos.ID, types.RoleStopLoss),
		Symbol:        pos.Symbol,
		Side:          exitSide,
		Type:          types.OrderTypeStopLossLimit,
		Quantity:      pos.Quantity,
		Price:         stop,
		StopPrice:     stop,
		TimeInForce:   types.TimeInForceGTC,
	})
	if err != nil {
		// Unprotected exposure is worse than a realized loss: flatten.
		m.logger.Error("stop-loss submit failed, unwinding", "error", err)
		return m.closeAtMarket(ctx, ReasonUnwind, types.PositionFailed)
	}

	tpRes, err := m.submitWithRetry(ctx, types.OrderRequest{
		ClientOrderID: types.ClientOrderID(pos.ID, types.RoleTakeProfit),
		Symbol:        pos.Symbol,
		Side:          exitSide,
		Type:          types.OrderTypeLimit,
		Quantity:      pos.Quantity,
		Price:         target,
		TimeInForce:   types.TimeInForceGTC,
	})
	if err != nil {
		m.logger.Error("take-profit submit failed, unwinding", "error", err)
		if _, cerr := m.venue.Cancel(ctx, slRes.OrderID); cerr != nil {
			m.logger.Warn("cancel stop after tp failure", "error", cerr)
		}
		return m.closeAtMarket(ctx, ReasonUnwind, types.PositionFailed)
	}

	m.update(func(p *types.Position) {
		p.StopOrderID = slRes.OrderID
		p.TakeProfitOrderID = tpRes.OrderID
		p.StopPrice = stop
		p.TakeProfitPrice = target
	})
	m.logger.Info("exit bracket placed",
		"stop_price", stop,
		"take_profit_price", target,
	)
	return nil
}

// handleExitEvent reacts to fill progress on one of the bracket legs,
// whether the event was delivered or reconstructed by a status poll.
// done=true means the position reached a terminal state.
func (m *Manager) handleExitEvent(ctx context.Context, ev types.FillEvent, slKey, tpKey string) (bool, error) {
	var reason, siblingID string
	switch ev.ClientOrderID {
	case slKey:
		reason, siblingID = ReasonStopLoss, m.Position().TakeProfitOrderID
	case tpKey:
		reason, siblingID = ReasonTakeProfit, m.Position().StopOrderID
	default:
		return false, nil
	}
	if !ev.FilledQty.IsPositive() && !ev.Status.IsFinal() {
		return false, nil
	}
	if ev.Status == types.OrderStatusCanceled {
		return false, nil
	}
	if !ev.FilledQty.IsPositive() &&
		(ev.Status == types.OrderStatusRejected || ev.Status == types.OrderStatusExpired) {
		// One leg of the bracket died without filling; the position is
		// no longer fully protected. Flatten.
		m.logger.Warn("exit order dead, unwinding",
			"client_order_id", ev.ClientOrderID,
			"status", ev.Status,
		)
		if _, cerr := m.cancelSibling(ctx, siblingID); cerr != nil {
			return true, cerr
		}
		return true, m.closeAtMarket(ctx, ReasonUnwind, types.PositionClosed)
	}
	m.setStatus(types.PositionExitPending)
	return true, m.settleExit(ctx, ev, reason, siblingID)
}

// pollExitLegs re-queries both bracket legs at the venue and returns
// the first with fill progress or a final status as a synthetic event.
// Query failures are tolerated; the next tick retries.
func (m *Manager) pollExitLegs(ctx context.Context) (types.FillEvent, bool) {
	pos := m.Position()
	for _, orderID := range []string{pos.StopOrderID, pos.TakeProfitOrderID} {
		if orderID == "" {
			continue
		}
		res, err := m.venue.GetStatus(ctx, orderID)
		if err != nil {
			m.logger.Warn("exit leg status poll failed", "order_id", orderID, "error", err)
			continue
		}
		if res.FilledQty.IsPositive() ||
			(res.Status.IsFinal() && res.Status != types.OrderStatusCanceled) {
			return resultToFill(res), true
		}
	}
	return types.FillEvent{}, false
}

// settleExit cancels the sibling exit order, waits out any remaining
// partial fill on the firing order, and closes the position.
func (m *Manager) settleExit(ctx context.Context, ev types.FillEvent, reason, siblingID string) error {
	residual, err := m.cancelSibling(ctx, siblingID)
	if err != nil {
		return err
	}

	// Wait for the firing exit to finish if it is still partial.
	final := ev
	for final.Status != types.OrderStatusFilled {
		next, werr := m.awaitFill(ctx, ev.ClientOrderID, final.OrderID)
		if werr != nil {
			return werr
		}
		final = next
	}

	pos := m.Position()
	pl := types.RealizedPL(pos.Side, final.FilledQty, pos.AvgEntryPrice, final.AvgFillPrice)

	if residual != nil && residual.FilledQty.IsPositive() {
		// Both exits fired: buy back the over-sold quantity and fold
		// the extra leg into the P&L.
		closeRes, cerr := m.submitWithRetry(ctx, types.OrderRequest{
			ClientOrderID: types.ClientOrderID(pos.ID, types.RoleClose),
			Symbol:        pos.Symbol,
			Side:          pos.Side,
			Type:          types.OrderTypeMarket,
			Quantity:      residual.FilledQty,
			TimeInForce:   types.TimeInForceIOC,
		})
		if cerr != nil {
			m.update(func(p *types.Position) {
				p.ExitReason = reason
				p.ExitPrice = final.AvgFillPrice
				p.RealizedPL = pl
			})
			m.setStatus(types.PositionFailed)
			return fmt.Errorf("%w: residual close after dual exit: %v", types.ErrReconciliation, cerr)
		}
		closeFill, werr := m.resolveFill(ctx, closeRes)
		if werr != nil {
			return werr
		}
		pl = pl.Add(types.RealizedPL(pos.Side, residual.FilledQty, closeFill.AvgFillPrice, residual.AvgFillPrice))
	}

	m.update(func(p *types.Position) {
		p.ExitReason = reason
		p.ExitPrice = final.AvgFillPrice
		p.RealizedPL = pl
	})
	m.setStatus(types.PositionClosed)
	m.logger.Info("position closed", "reason", reason, "realized_pl", pl)
	return nil
}

// cancelSibling cancels the other half of the OCO pair. When the
// cancel fails, the sibling's true state is re-queried: "already
// filled" means both exits fired, and the filled result is returned so
// the caller can unwind the residual.
func (m *Manager) cancelSibling(ctx context.Context, siblingID string) (*types.OrderResult, error) {
	res, err := m.venue.Cancel(ctx, siblingID)
	if err != nil {
		res, err = m.statusWithRetry(ctx, siblingID)
		if err != nil {
			m.update(func(p *types.Position) {
				p.ExitReason = "sibling cancel unreconciled"
			})
			m.setStatus(types.PositionFailed)
			return nil, fmt.Errorf("%w: sibling %s: %v", types.ErrReconciliation, siblingID, err)
		}
	}
	if res.FilledQty.IsPositive() {
		m.logger.Warn("sibling exit also filled",
			"sibling_order_id", siblingID,
			"filled_qty", res.FilledQty,
		)
		return res, nil
	}
	return nil, nil
}

// manualClose handles a cooperative cancel of an OPEN position: tear
// down the bracket, then flatten at market.
func (m *Manager) manualClose(ctx context.Context) error {
	pos := m.Position()
	for _, id := range []string{pos.StopOrderID, pos.TakeProfitOrderID} {
		if id == "" {
			continue
		}
		if _, err := m.cancelSibling(ctx, id); err != nil {
			return err
		}
		// A bracket order that filled while we were canceling is
		// handled by the normal exit path on the next fill event; the
		// market close below covers only the still-open quantity.
	}
	m.setStatus(types.PositionExitPending)
	return m.closeAtMarket(ctx, ReasonManualClose, types.PositionClosed)
}

// closeAtMarket flattens the position's filled quantity with a market
// order and records the given terminal state.
func (m *Manager) closeAtMarket(ctx context.Context, reason string, terminal types.PositionStatus) error {
	pos := m.Position()
	if !pos.FilledQty.IsPositive() {
		m.update(func(p *types.Position) { p.ExitReason = reason })
		m.setStatus(terminal)
		return nil
	}

	res, err := m.submitWithRetry(ctx, types.OrderRequest{
		ClientOrderID: types.ClientOrderID(pos.ID, types.RoleClose),
		Symbol:        pos.Symbol,
		Side:          pos.Side.Opposite(),
		Type:          types.OrderTypeMarket,
		Quantity:      pos.FilledQty,
		TimeInForce:   types.TimeInForceIOC,
	})
	if err != nil {
		m.update(func(p *types.Position) { p.ExitReason = reason })
		m.setStatus(types.PositionFailed)
		return fmt.Errorf("%w: market close: %v", types.ErrReconciliation, err)
	}
	fill, err := m.resolveFill(ctx, res)
	if err != nil {
		return err
	}

	m.update(func(p *types.Position) {
		p.ExitReason = reason
		p.ExitPrice = fill.AvgFillPrice
		p.RealizedPL = types.RealizedPL(p.Side, p.FilledQty, p.AvgEntryPrice, fill.AvgFillPrice)
	})
	m.setStatus(terminal)
	return nil
}

// resolveFill waits for an order submitted by this manager to reach
// FILLED, folding in the submit response if the venue filled
// synchronously.
func (m *Manager) resolveFill(ctx context.Context, res *types.OrderResult) (types.FillEvent, error) {
	if res.Status == types.OrderStatusFilled {
		return resultToFill(res), nil
	}
	return m.awaitFill(ctx, res.ClientOrderID, res.OrderID)
}

// awaitFill blocks until a FILLED event for clientID arrives, falling
// back to a status re-query when the wait times out.
func (m *Manager) awaitFill(ctx context.Context, clientID, orderID string) (types.FillEvent, error) {
	timer := time.NewTimer(m.cfg.ExitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return types.FillEvent{}, ctx.Err()

		case ev := <-m.fills:
			if ev.ClientOrderID != clientID {
				continue
			}
			if ev.Status == types.OrderStatusFilled {
				return ev, nil
			}

		case <-timer.C:
			res, err := m.statusWithRetry(ctx, orderID)
			if err != nil {
				return types.FillEvent{}, fmt.Errorf("%w: order %s: %v", types.ErrReconciliation, orderID, err)
			}
			if res.Status == types.OrderStatusFilled {
				return resultToFill(res), nil
			}
			if res.Status.IsFinal() {
				return types.FillEvent{}, fmt.Errorf("%w: order %s terminal with status %s", types.ErrReconciliation, orderID, res.Status)
			}
			timer.Reset(m.cfg.ExitTimeout)
		}
	}
}

// submitWithRetry retries retryable venue errors with a bounded
// attempt count and fixed backoff.
func (m *Manager) submitWithRetry(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		res, err := m.venue.Submit(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !adapter.IsRetryable(err) {
			return nil, err
		}
		m.logger.Warn("submit retry",
			"client_order_id", req.ClientOrderID,
			"attempt", attempt+1,
			"error", err,
		)
		if err := sleep(ctx, m.cfg.RetryBackoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("submit %s: retries exhausted: %w", req.ClientOrderID, lastErr)
}

// statusWithRetry retries status queries the same way.
func (m *Manager) statusWithRetry(ctx context.Context, orderID string) (*types.OrderResult, error) {
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		res, err := m.venue.GetStatus(ctx, orderID)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !adapter.IsRetryable(err) {
			return nil, err
		}
		if err := sleep(ctx, m.cfg.RetryBackoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("status %s: retries exhausted: %w", orderID, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resultToFill(res *types.OrderResult) types.FillEvent {
	return types.FillEvent{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          res.Side,
		Status:        res.Status,
		FilledQty:     res.FilledQty,
		AvgFillPrice:  res.AvgFillPrice,
		Timestamp:     res.UpdatedAt,
	}
}
