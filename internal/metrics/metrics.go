// Package metrics defines Prometheus collectors for the execution core
// and serves them alongside health endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IntentsAccepted counts intents accepted by the orchestrator.
	IntentsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeexec",
		Name:      "intents_accepted_total",
		Help:      "Trade intents accepted, by mode.",
	}, []string{"mode"})

	// IntentsRejected counts rejected intents by rejection reason.
	IntentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeexec",
		Name:      "intents_rejected_total",
		Help:      "Trade intents rejected, by reason.",
	}, []string{"reason"})

	// OrdersTotal counts orders submitted to the venue.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeexec",
		Name:      "orders_total",
		Help:      "Orders submitted, by role and final status.",
	}, []string{"role", "status"})

	// PositionsOpen tracks currently open positions.
	PositionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradeexec",
		Name:      "positions_open",
		Help:      "Currently open positions, by mode.",
	}, []string{"mode"})

	// CapitalAvailable tracks available capital per mode.
	CapitalAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradeexec",
		Name:      "capital_available",
		Help:      "Available capital, by mode.",
	}, []string{"mode"})

	// CapitalReserved tracks reserved capital per mode.
	CapitalReserved = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradeexec",
		Name:      "capital_reserved",
		Help:      "Capital held by open reservations, by mode.",
	}, []string{"mode"})

	// RealizedPL tracks cumulative realized profit and loss per mode.
	RealizedPL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradeexec",
		Name:      "realized_pl",
		Help:      "Cumulative realized P&L, by mode.",
	}, []string{"mode"})

	// ConfirmationsTotal counts confirmation tickets by outcome.
	ConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeexec",
		Name:      "confirmations_total",
		Help:      "Confirmation tickets, by outcome.",
	}, []string{"outcome"})

	// AdapterLatency observes venue call latency by operation.
	AdapterLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradeexec",
		Name:      "adapter_latency_seconds",
		Help:      "Venue adapter call latency, by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// FillStreamRestarts counts fill stream reconnections.
	FillStreamRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradeexec",
		Name:      "fill_stream_restarts_total",
		Help:      "Times the fill stream was restarted after a drop.",
	})

	// ErrorsTotal counts errors by type.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeexec",
		Name:      "errors_total",
		Help:      "Errors encountered, by type.",
	}, []string{"type"})
)
