package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "orderflow_api_requests_total",
	Help: "HTTP requests served, by method and status code.",
}, []string{"method", "code"})
