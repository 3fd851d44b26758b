// Package metrics holds the Prometheus collectors of the ledger service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeBusiness  = "business"
	OutcomeTransient = "transient"
	OutcomeError     = "error"
)

// Operations executed by the retry coordinator.
const (
	OperationTransfer = "transfer"
	OperationRead     = "read"
)

var (
	// Unit of work metrics
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_attempts_total",
			Help: "Total number of unit of work attempts by operation and outcome",
		},
		[]string{"operation", "outcome"}, // transfer, read; success, business, transient, error
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_retries_total",
			Help: "Total number of retries caused by transient contention",
		},
		[]string{"operation"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time to execute a logical operation including all retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// Outbox metrics
	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_outbox_published_total",
			Help: "Total number of outbox events handed to the broker",
		},
		[]string{"result"}, // published, failed, rejected
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_notifications_total",
			Help: "Total number of post-commit notifications",
		},
		[]string{"result"}, // sent, throttled, failed
	)
)
