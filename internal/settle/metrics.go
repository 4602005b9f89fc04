package settle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Settlement outcome labels.
const (
	outcomeSettled          = "settled"
	outcomeRejectedInput    = "rejected_validation"
	outcomeRejectedNotFound = "rejected_not_found"
	outcomeRejectedJudge    = "rejected_evaluation"
	outcomeRejectedFunds    = "rejected_insufficient_funds"
	outcomeRejectedInternal = "rejected_internal"
)

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spc_settlements_total",
		Help: "Attack submissions by terminal outcome.",
	}, []string{"outcome"})

	settlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spc_settlement_duration_seconds",
		Help:    "End-to-end attack submission latency.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	defensesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spc_defenses_submitted_total",
		Help: "Accepted defense prompt submissions.",
	})
)
