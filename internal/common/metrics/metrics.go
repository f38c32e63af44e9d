// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emergency_alerts_dispatched_total",
			Help: "Total number of emergency alerts successfully dispatched",
		},
	)

	AlertsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emergency_alerts_failed_total",
			Help: "Total number of emergency dispatch failures",
		},
		[]string{"error_code"},
	)

	StatusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emergency_status_polls_total",
			Help: "Total number of status polls by outcome",
		},
		[]string{"outcome"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "emergency_status_poll_duration_seconds",
			Help: "Duration of a status poll round trip in seconds",
		},
	)

	ResponderMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emergency_responder_merges_total",
			Help: "Responder merge decisions by source and result",
		},
		[]string{"source", "result"},
	)

	PushEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emergency_push_events_dropped_total",
			Help: "Push events dropped because no matching emergency was being tracked",
		},
	)

	ActiveEmergency = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emergency_active",
			Help: "1 while an emergency is active (pending or responded), 0 otherwise",
		},
	)
)
