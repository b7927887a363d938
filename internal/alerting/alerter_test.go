package alerting

import (
	"context"
	"errors"
	"testing"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityHigh, "HIGH"},
		{SeverityCritical, "CRITICAL"},
		{Severity(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []any
		want   string
	}{
		{
			name:   "empty fields",
			fields: nil,
			want:   "",
		},
		{
			name:   "single field",
			fields: []any{"position_id", "pos-1"},
			want:   "• position_id: pos-1",
		},
		{
			name:   "multiple fields",
			fields: []any{"symbol", "BTCUSDT", "quantity", 100},
			want:   "• symbol: BTCUSDT\n• quantity: 100",
		},
		{
			name:   "odd number of fields",
			fields: []any{"symbol", "BTCUSDT", "orphan"},
			want:   "• symbol: BTCUSDT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFields(tt.fields...); got != tt.want {
				t.Errorf("FormatFields() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		event AlertEvent
		want  Severity
	}{
		{EventReconciliationError, SeverityCritical},
		{EventConfirmationPending, SeverityHigh},
		{EventPositionFailed, SeverityHigh},
		{EventConfirmationExpired, SeverityWarning},
		{EventOrderRejected, SeverityWarning},
		{EventStreamLost, SeverityWarning},
		{EventPositionOpened, SeverityInfo},
		{EventPositionClosed, SeverityInfo},
		{EventSessionSummary, SeverityInfo},
		{AlertEvent("unknown"), SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			if got := EventSeverity(tt.event); got != tt.want {
				t.Errorf("EventSeverity(%s) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestMockAlerter_Captures(t *testing.T) {
	m := NewMockAlerter()

	if err := m.Alert(context.Background(), SeverityHigh, "confirmation pending", "ticket_id", "t-1"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}
	if err := m.Alert(context.Background(), SeverityInfo, "position closed"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
	if !m.HasAlertWithSeverity(SeverityHigh) {
		t.Error("expected captured HIGH alert")
	}
	if !m.HasAlertContaining("position closed") {
		t.Error("expected alert containing 'position closed'")
	}

	last := m.LastAlert()
	if last == nil || last.Message != "position closed" {
		t.Errorf("LastAlert() = %+v, want position closed", last)
	}

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", m.Count())
	}
}

type failingAlerter struct{ err error }

func (f *failingAlerter) Name() string { return "failing" }

func (f *failingAlerter) Alert(context.Context, Severity, string, ...any) error {
	return f.err
}

func TestMultiAlerter_FansOut(t *testing.T) {
	m1 := NewMockAlerter()
	m2 := NewMockAlerter()
	multi := NewMultiAlerter(nil, m1)
	multi.AddAlerter(m2)

	if err := multi.Alert(context.Background(), SeverityWarning, "stream lost"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	if m1.Count() != 1 || m2.Count() != 1 {
		t.Errorf("counts = %d, %d, want 1, 1", m1.Count(), m2.Count())
	}
}

func TestMultiAlerter_JoinsErrors(t *testing.T) {
	wantErr := errors.New("telegram down")
	multi := NewMultiAlerter(nil, NewMockAlerter(), &failingAlerter{err: wantErr})

	err := multi.Alert(context.Background(), SeverityCritical, "reconciliation error")
	if !errors.Is(err, wantErr) {
		t.Errorf("Alert() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestMultiAlerter_NoAlerters(t *testing.T) {
	multi := NewMultiAlerter(nil)
	if err := multi.Alert(context.Background(), SeverityInfo, "noop"); err != nil {
		t.Errorf("Alert() with no alerters error = %v, want nil", err)
	}
}
