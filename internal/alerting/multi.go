package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// MultiAlerter fans one alert out to every configured channel.
// Confirmation prompts and reconciliation alerts must reach the
// operator even when a single channel is down, so delivery is
// concurrent and a failed channel never blocks the others.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a fan-out alerter over the given channels.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{alerters: alerters, logger: logger}
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter registers another channel.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, alerter)
}

// Alert delivers the alert to all channels concurrently and joins any
// delivery failures. Failures are also logged per channel so a flaky
// Telegram session is visible without inspecting the joined error.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	alerters := make([]Alerter, len(m.alerters))
	copy(alerters, m.alerters)
	m.mu.RUnlock()

	if len(alerters) == 0 {
		return nil
	}

	errs := make([]error, len(alerters))
	var wg sync.WaitGroup
	for i, alerter := range alerters {
		wg.Add(1)
		go func(i int, a Alerter) {
			defer wg.Done()
			if err := a.Alert(ctx, severity, message, fields...); err != nil {
				m.logger.Error("alert delivery failed",
					"alerter", a.Name(),
					"severity", severity.String(),
					"error", err,
				)
				errs[i] = err
			}
		}(i, alerter)
	}
	wg.Wait()

	return errors.Join(errs...)
}

var _ Alerter = (*MultiAlerter)(nil)
