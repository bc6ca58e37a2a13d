// Package metrics holds the Prometheus instruments for the payout core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PayoutsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orbitpay_payouts_created_total",
		Help: "Payouts accepted and sent to the off-ramp provider.",
	})

	PayoutsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orbitpay_payouts_failed_total",
		Help: "Payouts that reached the FAILED state.",
	})

	PayoutsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orbitpay_payouts_completed_total",
		Help: "Payouts confirmed completed by the provider.",
	})

	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orbitpay_ledger_entries_total",
		Help: "Ledger entries written, by entry type.",
	}, []string{"entry_type"})

	PayoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitpay_payout_create_duration_seconds",
		Help:    "End-to-end latency of createPayout including the provider call.",
		Buckets: prometheus.DefBuckets,
	})
)
