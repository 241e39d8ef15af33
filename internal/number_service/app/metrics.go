package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Subsystem: "numbers",
			Name:      "purchases_total",
			Help:      "Total number of purchase attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	renewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Subsystem: "numbers",
			Name:      "renewals_total",
			Help:      "Total number of renewal and expiry decisions, by outcome.",
		},
		[]string{"outcome"},
	)
)
