package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhooksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "webhooks",
		Name:      "events_total",
		Help:      "Total number of provider callbacks received, by event type and outcome.",
	},
	[]string{"event_type", "outcome"},
)
