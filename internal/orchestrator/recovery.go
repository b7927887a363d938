package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/adapter"
	"github.com/hoangle/tradeexec/internal/alerting"
	"github.com/hoangle/tradeexec/internal/lifecycle"
	"github.com/hoangle/tradeexec/internal/types"
)

// Recover reconciles positions that were non-terminal when the last
// process died. Every live order is re-queried at the venue: an open
// position whose exit bracket still rests untouched is handed back to a
// lifecycle manager (supervised once Start runs); anything in a mixed
// or unprotected state has its resting orders canceled and its residual
// exposure flattened at market. In both cases the ledger is rebuilt so
// that available capital reflects what actually happened. Recover must
// run before Start so that recovered fills cannot race the router.
func (o *Orchestrator) Recover(ctx context.Context) error {
	positions, err := o.repo.GetNonTerminalPositions(ctx)
	if err != nil {
		return fmt.Errorf("load non-terminal positions: %w", err)
	}
	if len(positions) == 0 {
		o.logger.Info("recovery: no interrupted positions")
		return nil
	}

	o.logger.Info("recovery started", "positions", len(positions))

	var errs []error
	for _, pos := range positions {
		if err := o.recoverPosition(ctx, pos); err != nil {
			errs = append(errs, fmt.Errorf("position %s: %w", pos.ID, err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		o.alert(alerting.EventSeverity(alerting.EventReconciliationError),
			"Recovery left unresolved positions",
			"count", len(errs),
			"error", err.Error(),
		)
		return fmt.Errorf("%w: %v", types.ErrReconciliation, err)
	}

	o.alert(alerting.EventSeverity(alerting.EventRecoveryCompleted),
		"Recovery completed",
		"positions", len(positions),
	)
	o.logger.Info("recovery completed", "positions", len(positions))
	return nil
}

// recoverPosition reconciles one interrupted position: resume it when
// its bracket survived intact, otherwise cancel whatever is still
// resting, close whatever is still held, and record the result.
func (o *Orchestrator) recoverPosition(ctx context.Context, pos types.Position) error {
	log := o.logger.With("position_id", pos.ID, "symbol", pos.Symbol)
	log.Info("recovering position", "status", pos.Status)

	filled, avgPrice, err := o.recoverEntry(ctx, &pos)
	if err != nil {
		return err
	}

	if filled.IsPositive() && avgPrice.IsPositive() {
		resumable, err := o.bracketResumable(ctx, pos)
		if err != nil {
			return err
		}
		if resumable {
			return o.resumePosition(ctx, pos, filled, avgPrice)
		}
	}

	exited, exitPL, err := o.recoverExits(ctx, &pos, filled, avgPrice)
	if err != nil {
		return err
	}

	residual := filled.Sub(exited)
	if residual.IsPositive() {
		closePL, err := o.flattenResidual(ctx, &pos, residual, avgPrice)
		if err != nil {
			return err
		}
		exitPL = exitPL.Add(closePL)
	}

	pos.FilledQty = filled
	if avgPrice.IsPositive() {
		pos.AvgEntryPrice = avgPrice
	}
	pos.ExitReason = "recovery"
	pos.ClosedAt = time.Now().UTC()
	if filled.IsPositive() {
		pos.Status = types.PositionClosed
		pos.RealizedPL = exitPL
	} else {
		pos.Status = types.PositionCanceled
	}

	o.settleRecovered(pos)

	if err := o.repo.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("persist recovered position: %w", err)
	}
	log.Info("position recovered",
		"status", pos.Status,
		"filled_qty", pos.FilledQty,
		"realized_pl", pos.RealizedPL,
	)
	return nil
}

// bracketResumable reports whether the position's exit bracket is
// intact at the venue: both legs resting with no fill progress, or no
// bracket at all (the crash landed between fill and placement, and the
// manager re-places it). Any fill, dead leg, or half-placed pair means
// the position must be settled instead.
func (o *Orchestrator) bracketResumable(ctx context.Context, pos types.Position) (bool, error) {
	if pos.StopOrderID == "" && pos.TakeProfitOrderID == "" {
		return true, nil
	}
	if pos.StopOrderID == "" || pos.TakeProfitOrderID == "" {
		return false, nil
	}
	for _, orderID := range []string{pos.StopOrderID, pos.TakeProfitOrderID} {
		res, err := o.venue.GetStatus(ctx, orderID)
		if err != nil {
			if errors.Is(err, types.ErrOrderNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("query exit %s: %w", orderID, err)
		}
		if res.Status.IsFinal() || res.FilledQty.IsPositive() {
			return false, nil
		}
	}
	return true, nil
}

// resumePosition rebuilds the ledger exposure for a recovered open
// position and re-attaches a lifecycle manager to its resting bracket.
// The old reservation died with the old process, so the cost is
// re-reserved and committed before supervision resumes.
func (o *Orchestrator) resumePosition(ctx context.Context, pos types.Position, filled, avgPrice decimal.Decimal) error {
	pos.FilledQty = filled
	pos.Quantity = filled
	pos.AvgEntryPrice = avgPrice
	pos.Status = types.PositionOpen

	cost := avgPrice.Mul(filled)
	resID, err := o.ledger.Reserve(pos.Mode, pos.Symbol, cost)
	if err != nil {
		return fmt.Errorf("re-reserve: %w", err)
	}
	if err := o.ledger.Commit(resID, cost); err != nil {
		return fmt.Errorf("re-commit: %w", err)
	}

	if err := o.repo.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("persist resumed position: %w", err)
	}

	mgr := lifecycle.New(o.cfg.Lifecycle, o.venue, pos, decimal.Zero, o.logger)

	o.mu.Lock()
	o.managers[pos.ID] = &managed{manager: mgr, reservationID: resID}
	started := o.started
	if !started {
		o.resumed = append(o.resumed, pos.ID)
	}
	o.mu.Unlock()

	if started {
		o.wg.Add(1)
		go o.supervise(mgr, pos.ID, resID)
	}

	o.logger.Info("position resumed with live bracket",
		"position_id", pos.ID,
		"filled_qty", filled,
		"avg_entry_price", avgPrice,
	)
	return nil
}

// recoverEntry re-queries the entry order, canceling it if still live,
// and returns the confirmed fill.
func (o *Orchestrator) recoverEntry(ctx context.Context, pos *types.Position) (decimal.Decimal, decimal.Decimal, error) {
	if pos.EntryOrderID == "" {
		return decimal.Zero, decimal.Zero, nil
	}

	res, err := o.venue.GetStatus(ctx, pos.EntryOrderID)
	if err != nil {
		if errors.Is(err, types.ErrOrderNotFound) {
			return pos.FilledQty, pos.AvgEntryPrice, nil
		}
		return decimal.Zero, decimal.Zero, fmt.Errorf("query entry: %w", err)
	}

	if !res.Status.IsFinal() {
		canceled, err := o.venue.Cancel(ctx, pos.EntryOrderID)
		if err != nil && !errors.Is(err, types.ErrOrderNotFound) {
			return decimal.Zero, decimal.Zero, fmt.Errorf("cancel entry: %w", err)
		}
		if canceled != nil {
			res = canceled
		}
	}
	return res.FilledQty, res.AvgFillPrice, nil
}

// recoverExits re-queries the stop and take-profit legs, cancels any
// still resting, and returns how much of the position they already
// closed along with the realized P&L of those fills.
func (o *Orchestrator) recoverExits(ctx context.Context, pos *types.Position, filled, avgPrice decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	exited := decimal.Zero
	pl := decimal.Zero

	for _, orderID := range []string{pos.StopOrderID, pos.TakeProfitOrderID} {
		if orderID == "" {
			continue
		}
		res, err := o.venue.GetStatus(ctx, orderID)
		if err != nil {
			if errors.Is(err, types.ErrOrderNotFound) {
				continue
			}
			return decimal.Zero, decimal.Zero, fmt.Errorf("query exit %s: %w", orderID, err)
		}
		if !res.Status.IsFinal() {
			canceled, err := o.venue.Cancel(ctx, orderID)
			if err != nil && !errors.Is(err, types.ErrOrderNotFound) {
				return decimal.Zero, decimal.Zero, fmt.Errorf("cancel exit %s: %w", orderID, err)
			}
			if canceled != nil {
				res = canceled
			}
		}
		if res.FilledQty.IsPositive() {
			exited = exited.Add(res.FilledQty)
			pl = pl.Add(types.RealizedPL(pos.Side, res.FilledQty, avgPrice, res.AvgFillPrice))
		}
	}

	if exited.GreaterThan(filled) {
		exited = filled
	}
	return exited, pl, nil
}

// flattenResidual market-closes whatever part of the fill the exit
// legs did not cover.
func (o *Orchestrator) flattenResidual(ctx context.Context, pos *types.Position, qty, avgPrice decimal.Decimal) (decimal.Decimal, error) {
	o.logger.Warn("closing residual exposure at market",
		"position_id", pos.ID,
		"quantity", qty,
	)

	req := types.OrderRequest{
		ClientOrderID: types.ClientOrderID(pos.ID, types.RoleClose),
		Symbol:        pos.Symbol,
		Side:          pos.Side.Opposite(),
		Type:          types.OrderTypeMarket,
		Quantity:      qty,
		TimeInForce:   types.TimeInForceIOC,
	}
	// Submit is idempotent on the client order id: if the dying process
	// already placed this close, the venue returns the original order.
	res, err := o.venue.Submit(ctx, req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("close residual: %w", err)
	}

	res, err = o.awaitFinal(ctx, res)
	if err != nil {
		return decimal.Zero, err
	}
	return types.RealizedPL(pos.Side, res.FilledQty, avgPrice, res.AvgFillPrice), nil
}

// awaitFinal polls an order until the venue reports a final status.
func (o *Orchestrator) awaitFinal(ctx context.Context, res *types.OrderResult) (*types.OrderResult, error) {
	for !res.Status.IsFinal() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		next, err := o.venue.GetStatus(ctx, res.OrderID)
		if err != nil {
			if adapter.IsRetryable(err) {
				continue
			}
			return nil, fmt.Errorf("await close: %w", err)
		}
		res = next
	}
	return res, nil
}

// settleRecovered rebuilds the ledger for a recovered position. The
// original reservation died with the old process, so the exposure is
// re-reserved, committed, and closed in one motion.
func (o *Orchestrator) settleRecovered(pos types.Position) {
	if !pos.FilledQty.IsPositive() {
		return
	}
	cost := pos.AvgEntryPrice.Mul(pos.FilledQty)
	resID, err := o.ledger.Reserve(pos.Mode, pos.Symbol, cost)
	if err != nil {
		o.logger.Error("recovery reserve", "position_id", pos.ID, "error", err)
		return
	}
	if err := o.ledger.Commit(resID, cost); err != nil {
		o.logger.Error("recovery commit", "position_id", pos.ID, "error", err)
		return
	}
	if err := o.ledger.RecordClose(resID, pos.RealizedPL); err != nil {
		o.logger.Error("recovery settle", "position_id", pos.ID, "error", err)
	}
}
