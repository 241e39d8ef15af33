package saga

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var compensationsRun = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "saga",
		Name:      "compensations_total",
		Help:      "Total number of saga compensation runs, by saga and outcome.",
	},
	[]string{"saga", "outcome"},
)
