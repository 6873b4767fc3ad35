package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutcomeDeadLettered marks an outbox row moved to the DLQ.
const OutcomeDeadLettered = "dead_lettered"

// OutboxMetrics counts relay results per topic. A nil value records nothing.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	batch     prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return nil
	}
	m := &OutboxMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox rows handled by the publisher, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "batch_size",
			Help:      "Rows locked per publisher batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
	reg.MustRegister(m.published, m.batch)
	return m
}

// Observe records one settled row. Topic is empty when the row never resolved.
func (m *OutboxMetrics) Observe(topic, outcome string) {
	if m == nil {
		return
	}
	if topic == "" {
		topic = "unknown"
	}
	m.published.WithLabelValues(topic, outcome).Inc()
}

func (m *OutboxMetrics) Batch(size int) {
	if m == nil || size == 0 {
		return
	}
	m.batch.Observe(float64(size))
}
