package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "orderflow_queue_jobs_total",
	Help: "Job deliveries by driver and outcome (completed, retried, dead).",
}, []string{"driver", "outcome"})

var processDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "orderflow_queue_process_duration_seconds",
	Help:    "Wall time of a single job delivery, by driver.",
	Buckets: prometheus.ExponentialBuckets(0.050, 2, 12),
}, []string{"driver"})
