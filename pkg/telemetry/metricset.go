package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultStepBuckets spans quick route reloads up to long image builds
var DefaultStepBuckets = []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}

// MetricSet holds the metrics for one level of a run, e.g. per service or per service and step.
type MetricSet struct {
	kind       string
	labelNames []string

	Started *prometheus.CounterVec
	Handled *prometheus.CounterVec

	// Seconds is nil until EnableHandlingTimeHistogram is called
	Seconds     *prometheus.HistogramVec
	secondsOpts prometheus.HistogramOpts
}

func NewMetricSet(app string, labelNames []string, counterOpts ...CounterOption) *MetricSet {
	opts := counterOptions(counterOpts)
	kind := labelNames[len(labelNames)-1]

	name := func(suffix string) string {
		return fmt.Sprintf("%s_%s_%s", app, kind, suffix)
	}

	handledLabels := append(append([]string{}, labelNames...), "status")

	return &MetricSet{
		kind:       kind,
		labelNames: labelNames,
		Started: prometheus.NewCounterVec(
			opts.apply(prometheus.CounterOpts{
				Name: name("started_total"),
				Help: fmt.Sprintf("Total number of %ss started in deployment runs.", kind),
			}), labelNames),
		Handled: prometheus.NewCounterVec(
			opts.apply(prometheus.CounterOpts{
				Name: name("handled_total"),
				Help: fmt.Sprintf("Total number of %ss finished in deployment runs, by status.", kind),
			}), handledLabels),
		secondsOpts: prometheus.HistogramOpts{
			Name:    name("handling_seconds"),
			Help:    fmt.Sprintf("Seconds taken by each %s of a deployment run.", kind),
			Buckets: DefaultStepBuckets,
		},
	}
}

// EnableHandlingTimeHistogram enables histograms being registered when
// registering the Metrics on a Prometheus registry. Calling it again only updates the options
// of a histogram that has not been created yet.
func (m *MetricSet) EnableHandlingTimeHistogram(opts ...HistogramOption) {
	if m.Seconds != nil {
		return
	}
	for _, o := range opts {
		o(&m.secondsOpts)
	}
	m.Seconds = prometheus.NewHistogramVec(m.secondsOpts, m.labelNames)
}

func (m *MetricSet) Observe(startTime, endTime time.Time, status string, labelValues []string) {
	m.Started.WithLabelValues(labelValues...).Inc()

	handled := append(append([]string{}, labelValues...), status)
	m.Handled.WithLabelValues(handled...).Inc()

	if m.Seconds != nil {
		m.Seconds.WithLabelValues(labelValues...).Observe(endTime.Sub(startTime).Seconds())
	}
}

func (m *MetricSet) collectors() []prometheus.Collector {
	cs := []prometheus.Collector{m.Started, m.Handled}
	if m.Seconds != nil {
		cs = append(cs, m.Seconds)
	}
	return cs
}

func (m *MetricSet) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

func (m *MetricSet) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}
