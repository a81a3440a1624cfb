package dex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var quotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "orderflow_router_quotes_total",
	Help: "Venue quote attempts during routing, by venue and outcome.",
}, []string{"venue", "outcome"})

var routeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "orderflow_router_route_duration_seconds",
	Help:    "Wall time of complete routing rounds.",
	Buckets: prometheus.ExponentialBuckets(0.010, 2, 12),
})
