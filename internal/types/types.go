// Package types defines shared types used across the execution core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects between simulated and live execution.
type Mode int

const (
	ModePaper Mode = iota
	ModeReal
)

func (m Mode) String() string {
	switch m {
	case ModeReal:
		return "REAL"
	default:
		return "PAPER"
	}
}

// ParseMode parses a mode string ("paper" or "real").
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "paper", "PAPER":
		return ModePaper, true
	case "real", "REAL":
		return ModeReal, true
	default:
		return ModePaper, false
	}
}

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideSell:
		return "SELL"
	default:
		return "BUY"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide parses a side string ("buy" or "sell").
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "BUY":
		return SideBuy, true
	case "sell", "SELL":
		return SideSell, true
	default:
		return SideBuy, false
	}
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket        OrderType = "MARKET"
	OrderTypeLimit         OrderType = "LIMIT"
	OrderTypeStopLossLimit OrderType = "STOP_LOSS_LIMIT"
)

// TimeInForce controls how long an order rests on the book.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
)

// OrderStatus represents the venue-side state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	PositionPendingEntry         PositionStatus = "PENDING_ENTRY"
	PositionEntryPartiallyFilled PositionStatus = "ENTRY_PARTIALLY_FILLED"
	PositionOpen                 PositionStatus = "OPEN"
	PositionExitPending          PositionStatus = "EXIT_PENDING"
	PositionClosed               PositionStatus = "CLOSED"
	PositionFailed               PositionStatus = "FAILED"
	PositionCanceled             PositionStatus = "CANCELED"
)

// IsTerminal returns true if the position cannot transition further.
func (s PositionStatus) IsTerminal() bool {
	switch s {
	case PositionClosed, PositionFailed, PositionCanceled:
		return true
	default:
		return false
	}
}

// OrderRole identifies an order's purpose within a position.
// Idempotency keys are derived from the position ID and role, so a
// retried submission can never create a second live order for the
// same role.
type OrderRole string

const (
	RoleEntry      OrderRole = "entry"
	RoleStopLoss   OrderRole = "sl"
	RoleTakeProfit OrderRole = "tp"
	RoleClose      OrderRole = "close"
)

// ClientOrderID derives the idempotency key for a position's order role.
func ClientOrderID(positionID string, role OrderRole) string {
	return positionID + "-" + string(role)
}

// TradeIntent is an immutable candidate entry produced by the scoring
// collaborator. It is consumed exactly once by the orchestrator.
type TradeIntent struct {
	ID         string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	EntryHint  decimal.Decimal // advisory entry price, zero for market
	Confidence decimal.Decimal // 0..1, validated upstream
	Mode       Mode
	StrategyID string
	CreatedAt  time.Time
}

// Validate checks the intent for structural problems.
func (t TradeIntent) Validate() error {
	if t.ID == "" {
		return wrapValidation("intent id is required")
	}
	if t.Symbol == "" {
		return wrapValidation("symbol is required")
	}
	if !t.Quantity.IsPositive() {
		return wrapValidation("quantity must be positive")
	}
	if t.Confidence.IsNegative() || t.Confidence.GreaterThan(decimal.NewFromInt(1)) {
		return wrapValidation("confidence must be within [0, 1]")
	}
	if t.EntryHint.IsNegative() {
		return wrapValidation("entry hint must not be negative")
	}
	return nil
}

// OrderRequest is the value object submitted to an exchange adapter.
type OrderRequest struct {
	ClientOrderID string // idempotency key
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // limit price, zero for market
	StopPrice     decimal.Decimal // trigger for STOP_LOSS_LIMIT
	TimeInForce   TimeInForce
}

// Validate checks the request before it reaches a venue.
func (r OrderRequest) Validate() error {
	if r.ClientOrderID == "" {
		return wrapValidation("client order id is required")
	}
	if r.Symbol == "" {
		return wrapValidation("symbol is required")
	}
	if !r.Quantity.IsPositive() {
		return wrapValidation("quantity must be positive")
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !r.Price.IsPositive() {
			return wrapValidation("limit orders require a positive price")
		}
	case OrderTypeStopLossLimit:
		if !r.Price.IsPositive() || !r.StopPrice.IsPositive() {
			return wrapValidation("stop-loss-limit orders require positive price and stop price")
		}
	default:
		return wrapValidation("unknown order type")
	}
	return nil
}

// OrderResult is the venue's view of an order.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	UpdatedAt     time.Time
}

// FillEvent is emitted on an adapter's fill stream whenever an order's
// filled quantity or status changes.
type FillEvent struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Timestamp     time.Time
}

// Position is the mutable aggregate for one trade. It is owned by a
// single lifecycle manager until it reaches a terminal status.
type Position struct {
	ID                string
	IntentID          string
	Symbol            string
	Side              Side
	Mode              Mode
	Status            PositionStatus
	Quantity          decimal.Decimal // requested quantity
	FilledQty         decimal.Decimal
	AvgEntryPrice     decimal.Decimal
	StopPrice         decimal.Decimal
	TakeProfitPrice   decimal.Decimal
	EntryOrderID      string
	StopOrderID       string
	TakeProfitOrderID string
	ExitPrice         decimal.Decimal
	ExitReason        string
	RealizedPL        decimal.Decimal
	CreatedAt         time.Time
	ClosedAt          time.Time
}

// RealizedPL computes the linear P&L of closing qty at exitPrice
// against an entry at entryPrice.
func RealizedPL(side Side, qty, entryPrice, exitPrice decimal.Decimal) decimal.Decimal {
	diff := exitPrice.Sub(entryPrice)
	if side == SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}

// CapitalSnapshot is a point-in-time view of the ledger.
type CapitalSnapshot struct {
	Timestamp         time.Time
	Mode              Mode
	Available         decimal.Decimal
	Reserved          decimal.Decimal
	RealizedPL        decimal.Decimal
	OpenPositions     int
	OpenRealPositions int
}

// TicketState represents the approval state of a confirmation ticket.
type TicketState string

const (
	TicketPending  TicketState = "PENDING"
	TicketApproved TicketState = "APPROVED"
	TicketRejected TicketState = "REJECTED"
	TicketExpired  TicketState = "EXPIRED"
)

// ConfirmationTicket pairs a real-mode intent with operator approval.
type ConfirmationTicket struct {
	ID         string
	IntentID   string
	State      TicketState
	Confidence decimal.Decimal
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt time.Time
}
