package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for claim, accept, reject and cancel.
type Metrics struct {
	// Outcomes by operation, e.g. claim/created, accept/already_claimed
	Outcomes *prometheus.CounterVec

	// Fan-out writes that failed after the owning record was written
	PartialReplication *prometheus.CounterVec

	// Events the log did not accept
	PublishFailures prometheus.Counter

	OpDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foodlink_matching_outcomes_total",
			Help: "Matching operations by operation and outcome",
		}, []string{"op", "outcome"}),

		PartialReplication: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foodlink_matching_partial_replication_total",
			Help: "Cross-owner writes that failed after the primary record was written",
		}, []string{"op", "target"}),

		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "foodlink_matching_event_publish_failures_total",
			Help: "Donation events that could not be appended to the event log",
		}),

		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foodlink_matching_op_duration_seconds",
			Help:    "Duration of matching operations including all fan-out writes",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
	}
}

func (m *Metrics) IncrementOutcome(op, outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(op, outcome).Inc()
	}
}

func (m *Metrics) IncrementPartialReplication(op, target string) {
	if m != nil {
		m.PartialReplication.WithLabelValues(op, target).Inc()
	}
}

func (m *Metrics) IncrementPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

// ObserveDuration records time since start for op.
func (m *Metrics) ObserveDuration(op string, start time.Time) {
	if m != nil {
		m.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
