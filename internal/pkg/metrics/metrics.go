// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal 按动作和前后状态统计状态流转
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aftersale",
		Name:      "transitions_total",
		Help:      "Committed case state transitions.",
	}, []string{"action", "from", "to"})

	OMSEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aftersale",
		Name:      "oms_events_total",
		Help:      "Reconciled OMS events by operation and result.",
	}, []string{"op", "result"})

	SweepCasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aftersale",
		Name:      "sweep_cases_total",
		Help:      "Cases visited by the timeout sweep by outcome.",
	}, []string{"state", "outcome"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aftersale",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one timeout sweep run.",
		Buckets:   prometheus.DefBuckets,
	})

	UnitRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aftersale",
		Name:      "unit_retries_total",
		Help:      "Units of work retried after a concurrency conflict or transient failure.",
	}, []string{"unit"})

	RefundAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aftersale",
		Name:      "refund_attempts_total",
		Help:      "Refund gateway calls by result.",
	}, []string{"result"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aftersale",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aftersale",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
