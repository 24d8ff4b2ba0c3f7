package shell

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the shell's Prometheus metrics.
type Metrics struct {
	LoginOutcomes *prometheus.CounterVec
	GuardRejects  prometheus.Counter
	BackendCalls  *prometheus.CounterVec
	BackendTime   prometheus.Histogram
}

// NewMetrics creates the metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LoginOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authshell_login_outcomes_total",
			Help: "Login view outcomes by kind",
		}, []string{"outcome"}),
		GuardRejects: f.NewCounter(prometheus.CounterOpts{
			Name: "authshell_guard_rejects_total",
			Help: "Navigations to a guarded route that started a sign-in instead",
		}),
		BackendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authshell_backend_calls_total",
			Help: "Calls to the protected backend by result",
		}, []string{"result"}),
		BackendTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "authshell_backend_call_duration_seconds",
			Help:    "Duration of calls to the protected backend",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
