package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var createdTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "notifications",
		Name:      "created_total",
		Help:      "Total number of notifications created, by type.",
	},
	[]string{"type"},
)
