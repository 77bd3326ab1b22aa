package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records admission and delivery outcomes.
type PipelineMetrics struct {
	admitted         *prometheus.CounterVec
	attempts         *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	admitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_admitted_total",
		Help: "Events admitted by the pipeline, labeled by resolved status.",
	}, []string{"status"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_attempts_total",
		Help: "Delivery attempts, labeled by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delivery_attempt_duration_seconds",
		Help:    "Duration of delivery attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	reg.MustRegister(admitted, attempts, duration)
	return &PipelineMetrics{
		admitted:         admitted,
		attempts:         attempts,
		deliveryDuration: duration,
	}
}

// IncAdmitted increments the admission counter for the resolved status.
func (m *PipelineMetrics) IncAdmitted(status string) {
	if m == nil || m.admitted == nil {
		return
	}
	m.admitted.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveAttempt records one delivery attempt with its outcome and duration.
func (m *PipelineMetrics) ObserveAttempt(outcome string, duration time.Duration) {
	if m == nil || m.attempts == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.attempts.WithLabelValues(label).Inc()
	m.deliveryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
