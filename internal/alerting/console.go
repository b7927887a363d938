package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts into the process log. It is the
// fallback channel when no Telegram credentials are configured, and
// keeps a paper session fully observable without any external service.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a console alerter on the given logger.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("channel", "console")}
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert logs the alert at a level matching its severity. Critical
// alerts (reconciliation failures, unprotected exposure) land at
// ERROR so they survive log-level filtering in a live session.
func (c *ConsoleAlerter) Alert(_ context.Context, severity Severity, message string, fields ...any) error {
	attrs := make([]any, 0, len(fields)+2)
	attrs = append(attrs, "severity", severity.String())
	attrs = append(attrs, fields...)

	switch {
	case severity >= SeverityCritical:
		c.logger.Error(message, attrs...)
	case severity >= SeverityWarning:
		c.logger.Warn(message, attrs...)
	default:
		c.logger.Info(message, attrs...)
	}
	return nil
}
