package protectedapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the API's Prometheus metrics.
type Metrics struct {
	AuthFailures *prometheus.CounterVec
	Authorized   prometheus.Counter
	RateLimited  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authshell_api_auth_failures_total",
			Help: "Rejected bearer tokens by reason",
		}, []string{"reason"}),
		Authorized: f.NewCounter(prometheus.CounterOpts{
			Name: "authshell_api_authorized_total",
			Help: "Requests that passed token verification",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "authshell_api_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
}
