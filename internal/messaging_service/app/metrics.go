package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	smsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Subsystem: "messaging",
			Name:      "sms_sent_total",
			Help:      "Total number of SMS send attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	smsSegmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dashboard",
			Subsystem: "messaging",
			Name:      "sms_segments_total",
			Help:      "Total number of billed SMS segments.",
		},
	)

	providerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dashboard",
			Subsystem: "messaging",
			Name:      "provider_send_duration_seconds",
			Help:      "Duration of provider send calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
