// Package metrics exposes Prometheus instrumentation for the order
// processing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersIngested counts order line items accepted through the API.
	OrdersIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordersync_orders_ingested_total",
		Help: "Order line items accepted for processing",
	})

	// AttemptOutcomes counts fulfillment attempts by outcome.
	AttemptOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersync_attempts_total",
		Help: "Fulfillment attempts by outcome",
	}, []string{"outcome"})

	// ClaimConflicts counts claims lost to another worker.
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordersync_claim_conflicts_total",
		Help: "Order claims that lost the compare-and-set race",
	})

	// StaleExpired counts needs_retry orders aged out of the retry window.
	StaleExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordersync_stale_expired_total",
		Help: "Orders moved to failed after exceeding the retry window",
	})

	// NotificationsSent counts unknown-code notification emails dispatched.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordersync_notifications_sent_total",
		Help: "Unknown-code notification emails sent",
	})

	// InFlight tracks fulfillment attempts currently executing.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordersync_attempts_in_flight",
		Help: "Fulfillment attempts currently in flight",
	})
)
