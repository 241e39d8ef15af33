package messagebroker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of domain events published to the broker.",
	},
	[]string{"type"},
)
