package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

var rateLimitedCallers prometheus.Gauge

func configureRateLimiter() {
	rateLimitedCallers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "claimescrow",
			Subsystem: "ratelimiter",
			Name:      "tracked_callers",
			Help:      "Number of callers with an active claim attempt bucket.",
		},
	)

	registry.MustRegister(rateLimitedCallers)

	addCollect(collectRateLimiter)
}

func collectRateLimiter() {
	rateLimitedCallers.Set(float64(deps.RateLimiter.Tracked()))
}
