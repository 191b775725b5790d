package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "settlements_total",
			Help:      "Settlement attempts by resulting status.",
		},
		[]string{"method", "result"}, // result: completed, failed, cancelled, duplicate, late_success, error
	)
	settleConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "settle_conflict_retries_total",
			Help:      "Settlements retried after a concurrent goal update.",
		},
	)
	gatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	pollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "settlement_poll_duration_seconds",
			Help:      "Duration of one reconciliation poll cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	pollOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "settlement_poll_outcomes_total",
			Help:      "Pending transactions examined by the poller, by outcome.",
		},
		[]string{"outcome"}, // settled, failed, expired, still_pending, unresolved, error
	)
	eventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "events_dispatched_total",
			Help:      "Domain events handed to the publisher, by type and result.",
		},
		[]string{"type", "result"}, // result: published, publish_error, dropped
	)
)
