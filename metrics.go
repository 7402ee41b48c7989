package relaycache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Client requests by method",
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_errors_total",
		Help: "Synthesized error responses by status code",
	}, []string{"status"})

	revalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_revalidations_total",
		Help: "Conditional revalidations by outcome",
	}, []string{"outcome"})

	tunnelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_tunnels_open",
		Help: "CONNECT tunnels currently relaying",
	})
)
