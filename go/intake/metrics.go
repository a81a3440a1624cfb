package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ordersAccepted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "orderflow_intake_orders_accepted_total",
	Help: "Orders which passed validation and were enqueued.",
})
