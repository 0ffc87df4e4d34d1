package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the voice round-trip.
type PipelineMetrics struct {
	eventsTotal   *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	stageLatency  *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainer",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Total inbound trainer events",
		}, []string{"event_type", "status"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainer",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Failures per voice pipeline stage",
		}, []string{"stage"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trainer",
			Subsystem: "pipeline",
			Name:      "stage_latency_seconds",
			Help:      "Latency of voice pipeline stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.stageFailures, m.stageLatency)
	return m
}

func (m *PipelineMetrics) ObserveEvent(eventType, status string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *PipelineMetrics) ObserveStageFailure(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

func (m *PipelineMetrics) ObserveStageLatency(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(seconds)
}
