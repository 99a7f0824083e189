// internal/notification/metrics.go

package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_scheduled_total",
			Help: "Notifications written to the ledger",
		},
		[]string{"type"},
	)

	skippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_skipped_total",
			Help: "Schedule calls that produced no notification",
		},
		[]string{"reason"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Delivery attempts by outcome",
		},
		[]string{"result"},
	)

	sweepProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_sweep_processed_total",
			Help: "Pending notifications picked up by the sweep",
		},
	)

	deliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Time spent sending one push through the provider",
			Buckets: prometheus.DefBuckets,
		},
	)

	ruleRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_rule_runs_total",
			Help: "Trigger rule executions by rule and result",
		},
		[]string{"rule", "result"},
	)
)

// delivery results
const (
	resultSent         = "sent"
	resultFailed       = "failed"
	resultNoToken      = "no_token"
	resultInvalidToken = "invalid_token"
)
