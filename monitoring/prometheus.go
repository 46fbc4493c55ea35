package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports pipeline counters and latency histograms.
type PrometheusCollector struct {
	attempts  *prometheus.CounterVec
	verdicts  *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	attemptsH prometheus.Histogram
}

// NewPrometheusCollector registers the metrics on the given registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Name:      "generation_attempts_total",
			Help:      "Generation attempts started, by intent.",
		}, []string{"intent"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Name:      "quality_verdicts_total",
			Help:      "Quality verdicts, by result.",
		}, []string{"passed"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Name:      "consultations_total",
			Help:      "Completed consultations, by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "consult",
			Name:      "consultation_duration_seconds",
			Help:      "End-to-end consultation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		attemptsH: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "consult",
			Name:      "attempts_per_consultation",
			Help:      "Attempts consumed per consultation.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
	}
	if reg != nil {
		reg.MustRegister(c.attempts, c.verdicts, c.outcomes, c.latency, c.attemptsH)
	}
	return c
}

// Record implements Collector.
func (c *PrometheusCollector) Record(event Event) {
	switch event.Kind {
	case KindAttemptStarted:
		c.attempts.WithLabelValues(string(event.Intent)).Inc()
	case KindVerdict:
		if event.Passed {
			c.verdicts.WithLabelValues("true").Inc()
		} else {
			c.verdicts.WithLabelValues("false").Inc()
		}
	case KindOutcome:
		c.outcomes.WithLabelValues(string(event.Outcome)).Inc()
		c.latency.WithLabelValues(string(event.Outcome)).Observe(event.Latency.Seconds())
		c.attemptsH.Observe(float64(event.AttemptsUsed))
	}
}

var _ Collector = (*PrometheusCollector)(nil)
