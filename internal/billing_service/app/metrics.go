package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "dashboard"
const metricsSubsystem = "wallet"

var (
	postingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "ledger_postings_total",
			Help:      "Total number of ledger entries written, by kind and status.",
		},
		[]string{"kind", "status"},
	)

	replaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reference_replays_total",
			Help:      "Total number of postings answered from an already applied reference.",
		},
		[]string{"kind"},
	)

	insufficientBalanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "insufficient_balance_total",
			Help:      "Total number of debits rejected for insufficient balance.",
		},
		[]string{"kind"},
	)

	refundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "refunds_total",
			Help:      "Total number of compensating refunds, by the kind of the refunded entry.",
		},
		[]string{"kind"},
	)
)
