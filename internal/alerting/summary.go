package alerting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/types"
)

// SessionSummary contains execution statistics for a run of the core,
// built from the positions closed during the session.
type SessionSummary struct {
	Start            time.Time
	End              time.Time
	ClosedPositions  int
	WinningPositions int
	LosingPositions  int
	WinRate          decimal.Decimal
	RealizedPL       decimal.Decimal
	FailedPositions  int
	OpenPositions    int
	AvailablePaper   decimal.Decimal
	AvailableReal    decimal.Decimal
}

// NewSessionSummary aggregates closed and failed positions into a summary.
// Positions that are not terminal count as still open.
func NewSessionSummary(
	start, end time.Time,
	positions []types.Position,
	paper, real types.CapitalSnapshot,
) SessionSummary {
	s := SessionSummary{
		Start:          start,
		End:            end,
		AvailablePaper: paper.Available,
		AvailableReal:  real.Available,
	}

	for _, p := range positions {
		switch p.Status {
		case types.PositionClosed:
			s.ClosedPositions++
			s.RealizedPL = s.RealizedPL.Add(p.RealizedPL)
			if p.RealizedPL.IsPositive() {
				s.WinningPositions++
			} else if p.RealizedPL.IsNegative() {
				s.LosingPositions++
			}
		case types.PositionFailed:
			s.FailedPositions++
		default:
			if !p.Status.IsTerminal() {
				s.OpenPositions++
			}
		}
	}

	if s.ClosedPositions > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.WinningPositions)).
			Div(decimal.NewFromInt(int64(s.ClosedPositions))).
			Mul(decimal.NewFromInt(100))
	}

	return s
}
