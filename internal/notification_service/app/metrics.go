package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notification",
			Name:      "events_received_total",
			Help:      "Ledger events received from NATS.",
		},
		[]string{"type"},
	)
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notification",
			Name:      "notifications_total",
			Help:      "Rendered notifications by type and delivery result.",
		},
		[]string{"type", "result"}, // result: delivered, error
	)
)
