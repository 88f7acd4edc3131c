package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Fired        prometheus.Counter
	Certificates *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Fired: f.NewCounter(prometheus.CounterOpts{
			Name: "foodlink_milestones_fired_total",
			Help: "Monthly donation milestones reached",
		}),
		Certificates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foodlink_milestone_certificates_total",
			Help: "Certificate issuance attempts by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncrementFired() {
	if m != nil {
		m.Fired.Inc()
	}
}

func (m *Metrics) IncrementCertificate(outcome string) {
	if m != nil {
		m.Certificates.WithLabelValues(outcome).Inc()
	}
}
