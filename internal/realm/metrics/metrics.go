package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CommandsEvaluated  *prometheus.CounterVec
	CommandDuration    prometheus.Histogram
	TokensVerified     *prometheus.CounterVec
	IndexUpdates       prometheus.Counter
	ProjectionBatches  prometheus.Counter
	ProjectionFailures prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		CommandsEvaluated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_realm_commands_total",
			Help: "Total realm commands evaluated, by command and outcome",
		}, []string{"command", "outcome"}),
		CommandDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_realm_command_duration_seconds",
			Help:    "Duration of realm command evaluation including discovery fetches",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		TokensVerified: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_tokens_verified_total",
			Help: "Total access token verifications, by outcome",
		}, []string{"outcome"}),
		IndexUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_realm_index_updates_total",
			Help: "Total realm index upserts",
		}),
		ProjectionBatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_realm_projection_batches_total",
			Help: "Total projection batches processed",
		}),
		ProjectionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_realm_projection_failures_total",
			Help: "Total projection batches that failed and were retried",
		}),
	}
}

func (m *Metrics) ObserveCommand(command, outcome string, start time.Time) {
	m.CommandsEvaluated.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveToken(outcome string) {
	m.TokensVerified.WithLabelValues(outcome).Inc()
}
