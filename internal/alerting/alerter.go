// Package alerting provides notification capabilities for the execution core.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// Field represents a key-value pair for structured alert data.
type Field struct {
	Key   string
	Value any
}

// FormatFields converts variadic fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventConfirmationPending is sent when a real-mode trade awaits operator approval.
	EventConfirmationPending AlertEvent = "confirmation_pending"
	// EventConfirmationExpired is sent when a confirmation ticket expires unanswered.
	EventConfirmationExpired AlertEvent = "confirmation_expired"
	// EventOrderRejected is sent when an order is rejected by the venue.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventPositionOpened is sent when a position's entry is filled.
	EventPositionOpened AlertEvent = "position_opened"
	// EventPositionClosed is sent when a position is closed.
	EventPositionClosed AlertEvent = "position_closed"
	// EventPositionFailed is sent when a position ends in a failed state.
	EventPositionFailed AlertEvent = "position_failed"
	// EventReconciliationError is sent when position and venue state cannot be reconciled.
	EventReconciliationError AlertEvent = "reconciliation_error"
	// EventStreamLost is sent when the fill stream drops.
	EventStreamLost AlertEvent = "stream_lost"
	// EventStreamRestored is sent when the fill stream reconnects.
	EventStreamRestored AlertEvent = "stream_restored"
	// EventRecoveryCompleted is sent after startup recovery of non-terminal positions.
	EventRecoveryCompleted AlertEvent = "recovery_completed"
	// EventSessionSummary is sent for the execution session summary.
	EventSessionSummary AlertEvent = "session_summary"
	// EventCoreStarted is sent when the execution core starts.
	EventCoreStarted AlertEvent = "core_started"
	// EventCoreStopped is sent when the execution core stops.
	EventCoreStopped AlertEvent = "core_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventReconciliationError:
		return SeverityCritical
	case EventConfirmationPending, EventPositionFailed:
		return SeverityHigh
	case EventConfirmationExpired, EventOrderRejected, EventStreamLost:
		return SeverityWarning
	case EventPositionOpened, EventPositionClosed, EventStreamRestored:
		return SeverityInfo
	case EventSessionSummary, EventRecoveryCompleted, EventCoreStarted, EventCoreStopped:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
