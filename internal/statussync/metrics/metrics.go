package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks status changes and the notification fan-out behind them.
type Metrics struct {
	Changes       *prometheus.CounterVec
	FanOutUpdates *prometheus.CounterVec
	FanOutLatency prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Changes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foodlink_status_changes_total",
			Help: "Status changes by actor role and new status",
		}, []string{"role", "status"}),

		FanOutUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foodlink_status_notification_updates_total",
			Help: "Donor notification updates during status fan-out by outcome",
		}, []string{"outcome"}), // updated, missing, failed

		FanOutLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "foodlink_status_fanout_duration_seconds",
			Help:    "Duration of the donor notification scan and update",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

func (m *Metrics) IncrementChange(role, status string) {
	if m != nil {
		m.Changes.WithLabelValues(role, status).Inc()
	}
}

func (m *Metrics) IncrementFanOut(outcome string) {
	if m != nil {
		m.FanOutUpdates.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveFanOut(start time.Time) {
	if m != nil {
		m.FanOutLatency.Observe(time.Since(start).Seconds())
	}
}
