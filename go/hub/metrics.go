package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "orderflow_hub_subscribers",
	Help: "Orders with a live status subscriber.",
})
