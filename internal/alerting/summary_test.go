package alerting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/types"
)

func TestNewSessionSummary(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)

	positions := []types.Position{
		{Status: types.PositionClosed, RealizedPL: decimal.NewFromInt(300)},
		{Status: types.PositionClosed, RealizedPL: decimal.NewFromInt(-500)},
		{Status: types.PositionClosed, RealizedPL: decimal.NewFromInt(450)},
		{Status: types.PositionClosed, RealizedPL: decimal.NewFromInt(150)},
		{Status: types.PositionFailed},
		{Status: types.PositionCanceled},
		{Status: types.PositionOpen},
		{Status: types.PositionExitPending},
	}

	paper := types.CapitalSnapshot{Available: decimal.NewFromInt(10400)}
	real := types.CapitalSnapshot{Available: decimal.NewFromInt(2000)}

	s := NewSessionSummary(start, end, positions, paper, real)

	if s.ClosedPositions != 4 {
		t.Errorf("ClosedPositions = %d, want 4", s.ClosedPositions)
	}
	if s.WinningPositions != 3 {
		t.Errorf("WinningPositions = %d, want 3", s.WinningPositions)
	}
	if s.LosingPositions != 1 {
		t.Errorf("LosingPositions = %d, want 1", s.LosingPositions)
	}
	if want := decimal.NewFromInt(400); !s.RealizedPL.Equal(want) {
		t.Errorf("RealizedPL = %s, want %s", s.RealizedPL, want)
	}
	if want := decimal.NewFromInt(75); !s.WinRate.Equal(want) {
		t.Errorf("WinRate = %s, want %s", s.WinRate, want)
	}
	if s.FailedPositions != 1 {
		t.Errorf("FailedPositions = %d, want 1", s.FailedPositions)
	}
	if s.OpenPositions != 2 {
		t.Errorf("OpenPositions = %d, want 2", s.OpenPositions)
	}
	if !s.AvailablePaper.Equal(paper.Available) {
		t.Errorf("AvailablePaper = %s, want %s", s.AvailablePaper, paper.Available)
	}
}

func TestNewSessionSummary_Empty(t *testing.T) {
	now := time.Now()
	s := NewSessionSummary(now, now, nil, types.CapitalSnapshot{}, types.CapitalSnapshot{})

	if s.ClosedPositions != 0 || s.OpenPositions != 0 {
		t.Errorf("empty summary has positions: %+v", s)
	}
	if !s.WinRate.IsZero() {
		t.Errorf("WinRate = %s, want 0", s.WinRate)
	}
}

func TestNewSessionSummary_BreakEvenNotCounted(t *testing.T) {
	now := time.Now()
	positions := []types.Position{
		{Status: types.PositionClosed, RealizedPL: decimal.Zero},
	}

	s := NewSessionSummary(now, now, positions, types.CapitalSnapshot{}, types.CapitalSnapshot{})

	if s.ClosedPositions != 1 {
		t.Errorf("ClosedPositions = %d, want 1", s.ClosedPositions)
	}
	if s.WinningPositions != 0 || s.LosingPositions != 0 {
		t.Errorf("break-even position counted as win or loss: %+v", s)
	}
}
