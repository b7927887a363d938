package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/adapter"
	"github.com/hoangle/tradeexec/internal/types"
)

// mockVenue is a scripted adapter for driving the state machine.
type mockVenue struct {
	mu        sync.Mutex
	submitted []types.OrderRequest
	canceled  []string
	orders    map[string]*types.OrderResult // by order id

	submitFn func(req types.OrderRequest) (*types.OrderResult, error)
	cancelFn func(orderID string) (*types.OrderResult, error)
	statusFn func(orderID string) (*types.OrderResult, error)
}

func newMockVenue() *mockVenue {
	return &mockVenue{orders: make(map[string]*types.OrderResult)}
}

func (v *mockVenue) Submit(_ context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	v.mu.Lock()
	v.submitted = append(v.submitted, req)
	v.mu.Unlock()

	if v.submitFn != nil {
		return v.submitFn(req)
	}
	res := &types.OrderResult{
		OrderID:       "ord-" + req.ClientOrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        types.OrderStatusNew,
		UpdatedAt:     time.Now(),
	}
	v.mu.Lock()
	v.orders[res.OrderID] = res
	v.mu.Unlock()
	return res, nil
}

func (v *mockVenue) Cancel(_ context.Context, orderID string) (*types.OrderResult, error) {
	v.mu.Lock()
	v.canceled = append(v.canceled, orderID)
	v.mu.Unlock()

	if v.cancelFn != nil {
		return v.cancelFn(orderID)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if res, ok := v.orders[orderID]; ok {
		res.Status = types.OrderStatusCanceled
		return res, nil
	}
	return nil, adapter.NewPermanentError("cancel", types.ErrOrderNotFound)
}

func (v *mockVenue) GetStatus(_ context.Context, orderID string) (*types.OrderResult, error) {
	if v.statusFn != nil {
		return v.statusFn(orderID)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if res, ok := v.orders[orderID]; ok {
		return res, nil
	}
	return nil, adapter.NewPermanentError("status", types.ErrOrderNotFound)
}

func (v *mockVenue) StreamFills(context.Context) (<-chan types.FillEvent, error) {
	ch := make(chan types.FillEvent)
	close(ch)
	return ch, nil
}

func (v *mockVenue) Close() error { return nil }

func (v *mockVenue) submitCount(clientID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, req := range v.submitted {
		if req.ClientOrderID == clientID {
			n++
		}
	}
	return n
}

func (v *mockVenue) wasCanceled(orderID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range v.canceled {
		if id == orderID {
			return true
		}
	}
	return false
}

var _ adapter.Adapter = (*mockVenue)(nil)

func testConfig() Config {
	return Config{
		StopLossPct:       decimal.NewFromFloat(0.10),
		TakeProfitPct:     decimal.NewFromFloat(0.05),
		EntryTimeout:      200 * time.Millisecond,
		ExitTimeout:       100 * time.Millisecond,
		PartialFillPolicy: PartialCancelRemainder,
		MaxRetries:        3,
		RetryBackoff:      5 * time.Millisecond,
	}
}

func newTestPosition() types.Position {
	return types.Position{
		ID:        "pos-1",
		IntentID:  "intent-1",
		Symbol:    "BTCUSDT",
		Side:      types.SideBuy,
		Mode:      types.ModePaper,
		Status:    types.PositionPendingEntry,
		Quantity:  decimal.NewFromInt(100),
		CreatedAt: time.Now(),
	}
}

func fill(clientID string, status types.OrderStatus, qty, price int64) types.FillEvent {
	return types.FillEvent{
		OrderID:       "ord-" + clientID,
		ClientOrderID: clientID,
		Symbol:        "BTCUSDT",
		Status:        status,
		FilledQty:     decimal.NewFromInt(qty),
		AvgFillPrice:  decimal.NewFromInt(price),
		Timestamp:     time.Now(),
	}
}

// runManager starts Run in a goroutine and returns a channel with the
// outcome.
func runManager(ctx context.Context, m *Manager) <-chan struct {
	pos types.Position
	err error
} {
	out := make(chan struct {
		pos types.Position
		err error
	}, 1)
	go func() {
		pos, err := m.Run(ctx)
		out <- struct {
			pos types.Position
			err error
		}{pos, err}
	}()
	return out
}

func waitForSubmit(t *testing.T, v *mockVenue, clientID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if v.submitCount(clientID) > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("order %s never submitted", clientID)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestManager_StopLossPath(t *testing.T) {
	venue := newMockVenue()
	m := New(testConfig(), venue, newTestPosition(), decimal.Zero, nil)

	done := runManager(context.Background(), m)

	entryKey := types.ClientOrderID("pos-1", types.RoleEntry)
	waitForSubmit(t, venue, entryKey)
	m.Deliver(fill(entryKey, types.OrderStatusFilled, 100, 50))

	slKey := types.ClientOrderID("pos-1", types.RoleStopLoss)
	waitForSubmit(t, venue, slKey)
	waitForSubmit(t, venue, types.ClientOrderID("pos-1", types.RoleTakeProfit))

	// Price drops through the stop at 45.
	m.Deliver(fill(slKey, types.OrderStatusFilled, 100, 45))

	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionClosed {
		t.Fatalf("Status = %s, want CLOSED", res.pos.Status)
	}
	if res.pos.ExitReason != ReasonStopLoss {
		t.Errorf("ExitReason = %s, want %s", res.pos.ExitReason, ReasonStopLoss)
	}
	if want := decimal.NewFromInt(-500); !res.pos.RealizedPL.Equal(want) {
		t.Errorf("RealizedPL = %s, want %s", res.pos.RealizedPL, want)
	}
	if !venue.wasCanceled("ord-" + types.ClientOrderID("pos-1", types.RoleTakeProfit)) {
		t.Error("take-profit sibling was not canceled")
	}
}

func TestManager_TakeProfitPath(t *testing.T) {
	venue := newMockVenue()
	m := New(testConfig(), venue, newTestPosition(), decimal.Zero, nil)

	done := runManager(context.Background(), m)

	entryKey := types.ClientOrderID("pos-1", types.RoleEntry)
	waitForSubmit(t, venue, entryKey)
	m.Deliver(fill(entryKey, types.OrderStatusFilled, 100, 50))

	tpKey := types.ClientOrderID("pos-1", types.RoleTakeProfit)
	waitForSubmit(t, venue, tpKey)
	m.Deliver(fill(tpKey, types.OrderStatusFilled, 100, 53))

	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionClosed || res.pos.ExitReason != ReasonTakeProfit {
		t.Fatalf("Status = %s reason = %s, want CLOSED/%s", res.pos.Status, res.pos.ExitReason, ReasonTakeProfit)
	}
	if want := decimal.NewFromInt(300); !res.pos.RealizedPL.Equal(want) {
		t.Errorf("RealizedPL = %s, want %s", res.pos.RealizedPL, want)
	}
	if !venue.wasCanceled("ord-" + types.ClientOrderID("pos-1", types.RoleStopLoss)) {
		t.Error("stop-loss sibling was not canceled")
	}
}

func TestManager_BracketPrices(t *testing.T) {
	tests := []struct {
		name       string
		side       types.Side
		entry      int64
		wantStop   string
		wantTarget string
	}{
		{"long", types.SideBuy, 100, "90", "105"},
		{"short", types.SideSell, 100, "110", "95"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop, target := exitPrices(tt.side, decimal.NewFromInt(tt.entry),
				decimal.NewFromFloat(0.10), decimal.NewFromFloat(0.05))
			if stop.String() != tt.wantStop {
				t.Errorf("stop = %s, want %s", stop, tt.wantStop)
			}
			if target.String() != tt.wantTarget {
				t.Errorf("target = %s, want %s", target, tt.wantTarget)
			}
		})
	}
}

func TestManager_EntryTimeoutNoFill(t *testing.T) {
	venue := newMockVenue()
	cfg := testConfig()
	cfg.EntryTimeout = 30 * time.Millisecond
	m := New(cfg, venue, newTestPosition(), decimal.NewFromInt(50), nil)

	res := <-runManager(context.Background(), m)
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionFailed {
		t.Fatalf("Status = %s, want FAILED", res.pos.Status)
	}
	if !venue.wasCanceled(res.pos.EntryOrderID) {
		t.Error("entry order was never canceled")
	}
}

func TestManager_EntryTimeoutFillRace(t *testing.T) {
	venue := newMockVenue()
	venue.statusFn = func(orderID string) (*types.OrderResult, error) {
		// The fill landed just before the timeout fired.
		return &types.OrderResult{
			OrderID:       orderID,
			ClientOrderID: types.ClientOrderID("pos-1", types.RoleEntry),
			Status:        types.OrderStatusFilled,
			FilledQty:     decimal.NewFromInt(100),
			AvgFillPrice:  decimal.NewFromInt(50),
		}, nil
	}
	cfg := testConfig()
	cfg.EntryTimeout = 30 * time.Millisecond
	m := New(cfg, venue, newTestPosition(), decimal.NewFromInt(50), nil)

	done := runManager(context.Background(), m)

	tpKey := types.ClientOrderID("pos-1", types.RoleTakeProfit)
	waitForSubmit(t, venue, tpKey)
	m.Deliver(fill(tpKey, types.OrderStatusFilled, 100, 53))

	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionClosed {
		t.Fatalf("Status = %s, want CLOSED (timeout must not defeat a racing fill)", res.pos.Status)
	}
}

func TestManager_PartialFillCancelRemainder(t *testing.T) {
	venue := newMockVenue()
	cfg := testConfig()
	cfg.EntryTimeout = 40 * time.Millisecond
	m := New(cfg, venue, newTestPosition(), decimal.NewFromInt(50), nil)

	done := runManager(context.Background(), m)

	entryKey := types.ClientOrderID("pos-1", types.RoleEntry)
	waitForSubmit(t, venue, entryKey)
	m.Deliver(fill(entryKey, types.OrderStatusPartiallyFilled, 40, 50))

	// Timeout elapses with 40 of 100 filled; policy trims to 40.
	slKey := types.ClientOrderID("pos-1", types.RoleStopLoss)
	waitForSubmit(t, venue, slKey)
	m.Deliver(fill(slKey, types.OrderStatusFilled, 40, 45))

	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionClosed {
		t.Fatalf("Status = %s, want CLOSED", res.pos.Status)
	}
	if want := decimal.NewFromInt(40); !res.pos.Quantity.Equal(want) {
		t.Errorf("Quantity = %s, want %s", res.pos.Quantity, want)
	}
	if want := decimal.NewFromInt(-200); !res.pos.RealizedPL.Equal(want) {
		t.Errorf("RealizedPL = %s, want %s", res.pos.RealizedPL, want)
	}
	if !venue.wasCanceled("ord-" + entryKey) {
		t.Error("entry remainder was not canceled")
	}
}

func TestManager_OCOSiblingAlreadyFilled(t *testing.T) {
	venue := newMockVenue()
	slKey := types.ClientOrderID("pos-1", types.RoleStopLoss)
	tpKey := types.ClientOrderID("pos-1", types.RoleTakeProfit)
	closeKey := types.ClientOrderID("pos-1", types.RoleClose)

	venue.cancelFn = func(orderID string) (*types.OrderResult, error) {
		if orderID == "ord-"+slKey {
			// The stop raced the cancel and filled too.
			return nil, adapter.NewPermanentError("cancel", errors.New("order is terminal"))
		}
		return &types.OrderResult{OrderID: orderID, Status: types.OrderStatusCanceled}, nil
	}
	venue.statusFn = func(orderID string) (*types.OrderResult, error) {
		return &types.OrderResult{
			OrderID:       orderID,
			ClientOrderID: slKey,
			Status:        types.OrderStatusFilled,
			FilledQty:     decimal.NewFromInt(100),
			AvgFillPrice:  decimal.NewFromInt(45),
		}, nil
	}
	venue.submitFn = func(req types.OrderRequest) (*types.OrderResult, error) {
		res := &types.OrderResult{
			OrderID:       "ord-" + req.ClientOrderID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Status:        types.OrderStatusNew,
		}
		if req.ClientOrderID == closeKey {
			// Residual buy-back fills immediately at market.
			res.Status = types.OrderStatusFilled
			res.FilledQty = req.Quantity
			res.AvgFillPrice = decimal.NewFromInt(46)
		}
		return res, nil
	}

	m := New(testConfig(), venue, newTestPosition(), decimal.Zero, nil)
	done := runManager(context.Background(), m)

	entryKey := types.ClientOrderID("pos-1", types.RoleEntry)
	waitForSubmit(t, venue, entryKey)
	m.Deliver(fill(entryKey, types.OrderStatusFilled, 100, 50))

	waitForSubmit(t, venue, tpKey)
	m.Deliver(fill(tpKey, types.OrderStatusFilled, 100, 53))

	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionClosed {
		t.Fatalf("Status = %s, want CLOSED", res.pos.Status)
	}
	if venue.submitCount(closeKey) != 1 {
		t.Fatalf("residual close submitted %d times, want 1", venue.submitCount(closeKey))
	}
	// TP leg: +300. Residual leg: stop sold 100 at 45, bought back at
	// 46, -100. Net +200.
	if want := decimal.NewFromInt(200); !res.pos.RealizedPL.Equal(want) {
		t.Errorf("RealizedPL = %s, want %s", res.pos.RealizedPL, want)
	}
}

func TestManager_LostExitFillRecoveredByPoll(t *testing.T) {
	venue := newMockVenue()
	slKey := types.ClientOrderID("pos-1", types.RoleStopLoss)
	venue.statusFn = func(orderID string) (*types.OrderResult, error) {
		if orderID == "ord-"+slKey {
			// The stop filled at the venue, but its event was lost.
			return &types.OrderResult{
				OrderID:       orderID,
				ClientOrderID: slKey,
				Status:        types.OrderStatusFilled,
				FilledQty:     decimal.NewFromInt(100),
				AvgFillPrice:  decimal.NewFromInt(45),
			}, nil
		}
		return &types.OrderResult{OrderID: orderID, Status: types.OrderStatusNew}, nil
	}

	m := New(testConfig(), venue, newTestPosition(), decimal.Zero, nil)
	done := runManager(context.Background(), m)

	entryKey := types.ClientOrderID("pos-1", types.RoleEntry)
	waitForSubmit(t, venue, entryKey)
	m.Deliver(fill(entryKey, types.OrderStatusFilled, 100, 50))
	waitForSubmit(t, venue, slKey)

	// No stop-loss event is ever delivered; the reconciliation tick
	// must find the fill and close the position anyway.
	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionClosed {
		t.Fatalf("Status = %s, want CLOSED", res.pos.Status)
	}
	if res.pos.ExitReason != ReasonStopLoss {
		t.Errorf("ExitReason = %s, want %s", res.pos.ExitReason, ReasonStopLoss)
	}
	if want := decimal.NewFromInt(-500); !res.pos.RealizedPL.Equal(want) {
		t.Errorf("RealizedPL = %s, want %s", res.pos.RealizedPL, want)
	}
	if !venue.wasCanceled("ord-" + types.ClientOrderID("pos-1", types.RoleTakeProfit)) {
		t.Error("take-profit sibling was not canceled")
	}
}

func TestManager_ResumeOpenPositionKeepsBracket(t *testing.T) {
	venue := newMockVenue()
	slKey := types.ClientOrderID("pos-1", types.RoleStopLoss)
	tpKey := types.ClientOrderID("pos-1", types.RoleTakeProfit)

	pos := newTestPosition()
	pos.Status = types.PositionOpen
	pos.FilledQty = decimal.NewFromInt(100)
	pos.AvgEntryPrice = decimal.NewFromInt(50)
	pos.StopOrderID = "ord-" + slKey
	pos.TakeProfitOrderID = "ord-" + tpKey
	venue.orders[pos.StopOrderID] = &types.OrderResult{
		OrderID: pos.StopOrderID, ClientOrderID: slKey, Status: types.OrderStatusNew,
	}
	venue.orders[pos.TakeProfitOrderID] = &types.OrderResult{
		OrderID: pos.TakeProfitOrderID, ClientOrderID: tpKey, Status: types.OrderStatusNew,
	}

	m := New(testConfig(), venue, pos, decimal.Zero, nil)
	done := runManager(context.Background(), m)

	m.Deliver(fill(slKey, types.OrderStatusFilled, 100, 45))

	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionClosed {
		t.Fatalf("Status = %s, want CLOSED", res.pos.Status)
	}
	if want := decimal.NewFromInt(-500); !res.pos.RealizedPL.Equal(want) {
		t.Errorf("RealizedPL = %s, want %s", res.pos.RealizedPL, want)
	}
	// The resting bracket is reused, never re-placed.
	if n := venue.submitCount(slKey) + venue.submitCount(tpKey); n != 0 {
		t.Errorf("bracket resubmitted %d times, want 0", n)
	}
	if venue.submitCount(types.ClientOrderID("pos-1", types.RoleEntry)) != 0 {
		t.Error("entry resubmitted for a resumed position")
	}
	if !venue.wasCanceled(pos.TakeProfitOrderID) {
		t.Error("take-profit sibling was not canceled")
	}
}

func TestManager_SubmitRetriesOnRetryable(t *testing.T) {
	venue := newMockVenue()
	var attempts int
	venue.submitFn = func(req types.OrderRequest) (*types.OrderResult, error) {
		attempts++
		if attempts < 3 {
			return nil, adapter.NewError("submit", errors.New("venue unavailable"))
		}
		return &types.OrderResult{
			OrderID:       "ord-" + req.ClientOrderID,
			ClientOrderID: req.ClientOrderID,
			Status:        types.OrderStatusFilled,
			FilledQty:     req.Quantity,
			AvgFillPrice:  decimal.NewFromInt(50),
		}, nil
	}

	m := New(testConfig(), venue, newTestPosition(), decimal.Zero, nil)
	_, err := m.submitWithRetry(context.Background(), m.entryRequest(newTestPosition(), decimal.Zero))
	if err != nil {
		t.Fatalf("submitWithRetry() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	// Every retry reused the same idempotency key.
	entryKey := types.ClientOrderID("pos-1", types.RoleEntry)
	if venue.submitCount(entryKey) != 3 {
		t.Errorf("submits with key %s = %d, want 3", entryKey, venue.submitCount(entryKey))
	}
}

func TestManager_SubmitFailsFastOnPermanent(t *testing.T) {
	venue := newMockVenue()
	var attempts int
	venue.submitFn = func(types.OrderRequest) (*types.OrderResult, error) {
		attempts++
		return nil, adapter.NewPermanentError("submit", errors.New("invalid symbol"))
	}

	m := New(testConfig(), venue, newTestPosition(), decimal.Zero, nil)
	res := <-runManager(context.Background(), m)
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionFailed {
		t.Fatalf("Status = %s, want FAILED", res.pos.Status)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on permanent error)", attempts)
	}
}

func TestManager_CancelBeforeFill(t *testing.T) {
	venue := newMockVenue()
	m := New(testConfig(), venue, newTestPosition(), decimal.NewFromInt(50), nil)

	done := runManager(context.Background(), m)
	waitForSubmit(t, venue, types.ClientOrderID("pos-1", types.RoleEntry))

	m.RequestCancel()

	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionCanceled {
		t.Fatalf("Status = %s, want CANCELED", res.pos.Status)
	}
}

func TestManager_CancelAfterOpenDegradesToClose(t *testing.T) {
	venue := newMockVenue()
	closeKey := types.ClientOrderID("pos-1", types.RoleClose)
	venue.submitFn = func(req types.OrderRequest) (*types.OrderResult, error) {
		res := &types.OrderResult{
			OrderID:       "ord-" + req.ClientOrderID,
			ClientOrderID: req.ClientOrderID,
			Status:        types.OrderStatusNew,
		}
		if req.ClientOrderID == closeKey {
			res.Status = types.OrderStatusFilled
			res.FilledQty = req.Quantity
			res.AvgFillPrice = decimal.NewFromInt(49)
		}
		venue.mu.Lock()
		venue.orders[res.OrderID] = res
		venue.mu.Unlock()
		return res, nil
	}

	m := New(testConfig(), venue, newTestPosition(), decimal.Zero, nil)
	done := runManager(context.Background(), m)

	entryKey := types.ClientOrderID("pos-1", types.RoleEntry)
	waitForSubmit(t, venue, entryKey)
	m.Deliver(fill(entryKey, types.OrderStatusFilled, 100, 50))

	waitForSubmit(t, venue, types.ClientOrderID("pos-1", types.RoleTakeProfit))
	m.RequestCancel()

	res := <-done
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.pos.Status != types.PositionClosed {
		t.Fatalf("Status = %s, want CLOSED", res.pos.Status)
	}
	if res.pos.ExitReason != ReasonManualClose {
		t.Errorf("ExitReason = %s, want %s", res.pos.ExitReason, ReasonManualClose)
	}
	if want := decimal.NewFromInt(-100); !res.pos.RealizedPL.Equal(want) {
		t.Errorf("RealizedPL = %s, want %s", res.pos.RealizedPL, want)
	}
	if !venue.wasCanceled("ord-" + types.ClientOrderID("pos-1", types.RoleStopLoss)) {
		t.Error("stop order not canceled on manual close")
	}
}

func TestManager_ContextCancelLeavesNonTerminal(t *testing.T) {
	venue := newMockVenue()
	m := New(testConfig(), venue, newTestPosition(), decimal.NewFromInt(50), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runManager(ctx, m)
	waitForSubmit(t, venue, types.ClientOrderID("pos-1", types.RoleEntry))
	cancel()

	res := <-done
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", res.err)
	}
	if res.pos.Status.IsTerminal() {
		t.Errorf("Status = %s; interrupted runs must stay non-terminal for recovery", res.pos.Status)
	}
}

func TestManager_DeliverNeverBlocks(t *testing.T) {
	venue := newMockVenue()
	m := New(testConfig(), venue, newTestPosition(), decimal.Zero, nil)

	doneCh := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			m.Deliver(fill(fmt.Sprintf("other-%d", i), types.OrderStatusFilled, 1, 1))
		}
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked with no consumer")
	}
}
