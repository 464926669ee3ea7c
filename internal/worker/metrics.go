package worker

import (
	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts job outcomes per report kind. A nil *Metrics is valid and
// records nothing, so wiring metrics stays optional.
type Metrics struct {
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reports",
			Subsystem: "worker",
			Name:      "jobs_processed_total",
			Help:      "Report jobs driven to completed status.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reports",
			Subsystem: "worker",
			Name:      "job_failures_total",
			Help:      "Report job attempts that ended in an error.",
		}, []string{"kind"}),
	}
	registerer.MustRegister(m.processed, m.failed)
	return m
}

func (m *Metrics) JobProcessed(kind domain.ReportKind) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) JobFailed(kind domain.ReportKind) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(string(kind)).Inc()
}
