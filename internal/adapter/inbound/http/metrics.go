package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric ThoughtGate exposes on /metrics.
// Pass to the components that need to record against it.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	InFlightStreams     prometheus.Gauge
	PolicyEvaluations   *prometheus.CounterVec
	ApprovalOutcomes    *prometheus.CounterVec
	ReloadFailuresTotal *prometheus.CounterVec
	ZombiesPrevented    prometheus.Counter
	PanicsRecovered     prometheus.Counter
}

// NewMetrics creates and registers every metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "requests_total",
				Help:      "Total number of JSON-RPC elements processed, by method category and outcome.",
			},
			[]string{"category", "outcome"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "thoughtgate",
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration, including any approval wait.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 20),
			},
			[]string{"category"},
		),
		InFlightStreams: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "thoughtgate",
				Name:      "in_flight_streams",
				Help:      "Number of Green-path streams currently holding a concurrency slot.",
			},
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "policy_evaluations_total",
				Help:      "Total policy evaluations, by verdict kind.",
			},
			[]string{"verdict"},
		),
		ApprovalOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "approval_outcomes_total",
				Help:      "Terminal approval decisions, by decision kind.",
			},
			[]string{"decision"},
		),
		ReloadFailuresTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "policy_reload_failures_total",
				Help:      "Failed policy bundle reloads, by failure category.",
			},
			[]string{"category"},
		),
		ZombiesPrevented: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "zombie_executions_prevented_total",
				Help:      "Approved requests discarded because the client disconnected before the post-approval liveness re-check.",
			},
		),
		PanicsRecovered: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "panics_recovered_total",
				Help:      "Panics caught by the recovery middleware and converted into an internal-error response.",
			},
		),
	}
}
