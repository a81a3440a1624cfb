package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "orderflow_worker_orders_total",
	Help: "Order attempts reaching a terminal worker outcome.",
}, []string{"result"})

var executeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "orderflow_worker_execute_duration_seconds",
	Help:    "Wall time from dequeue to confirmation for successful orders.",
	Buckets: prometheus.ExponentialBuckets(0.100, 2, 12),
})
