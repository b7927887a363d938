package metrics

import (
	"time"

	"github.com/hoangle/tradeexec/internal/types"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordIntentAccepted records an accepted trade intent.
func (r *Recorder) RecordIntentAccepted(mode types.Mode) {
	IntentsAccepted.WithLabelValues(mode.String()).Inc()
}

// RecordIntentRejected records a rejected trade intent.
func (r *Recorder) RecordIntentRejected(reason string) {
	IntentsRejected.WithLabelValues(reason).Inc()
}

// RecordOrder records an order reaching a status.
func (r *Recorder) RecordOrder(role types.OrderRole, status types.OrderStatus) {
	OrdersTotal.WithLabelValues(string(role), string(status)).Inc()
}

// RecordPositionOpened records a position being opened.
func (r *Recorder) RecordPositionOpened(mode types.Mode) {
	PositionsOpen.WithLabelValues(mode.String()).Inc()
}

// RecordPositionClosed records a position leaving the open set.
func (r *Recorder) RecordPositionClosed(mode types.Mode) {
	PositionsOpen.WithLabelValues(mode.String()).Dec()
}

// RecordCapital publishes a ledger snapshot's gauges.
func (r *Recorder) RecordCapital(s types.CapitalSnapshot) {
	mode := s.Mode.String()
	CapitalAvailable.WithLabelValues(mode).Set(s.Available.InexactFloat64())
	CapitalReserved.WithLabelValues(mode).Set(s.Reserved.InexactFloat64())
	RealizedPL.WithLabelValues(mode).Set(s.RealizedPL.InexactFloat64())
	PositionsOpen.WithLabelValues(mode).Set(float64(s.OpenPositions))
}

// RecordConfirmation records a confirmation ticket outcome.
func (r *Recorder) RecordConfirmation(state types.TicketState) {
	ConfirmationsTotal.WithLabelValues(string(state)).Inc()
}

// RecordStreamRestart records a fill stream reconnect.
func (r *Recorder) RecordStreamRestart() {
	FillStreamRestarts.Inc()
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveAdapter observes the elapsed time as adapter call latency.
func (t *Timer) ObserveAdapter(op string) {
	AdapterLatency.WithLabelValues(op).Observe(t.Elapsed().Seconds())
}
