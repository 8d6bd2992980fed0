package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Iteration results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Pipeline stages.
const (
	StageRetrieve  = "retrieve"
	StageAggregate = "aggregate"
	StageWrite     = "write"
	StagePublish   = "publish"
)

// Collector holds the metrics of one sweep. It uses its own registry so the
// result can be written as a node_exporter textfile when the run ends.
type Collector struct {
	registry *prometheus.Registry

	IterationsTotal      *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	DailyBytesWritten    prometheus.Counter
	LastSuccessTimestamp prometheus.Gauge
}

// NewCollector creates a new metrics collector.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		IterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iterations_total",
				Help:      "Number of (year, month) iterations by result",
			},
			[]string{"result"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"stage"},
		),

		DailyBytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "daily_bytes_written_total",
				Help:      "Total size of the daily files written",
			},
		),

		LastSuccessTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful iteration",
			},
		),
	}
	c.registry.MustRegister(
		c.IterationsTotal,
		c.StageDuration,
		c.DailyBytesWritten,
		c.LastSuccessTimestamp,
	)
	return c
}

// ObserveStage records how long a stage took since start.
func (c *Collector) ObserveStage(stage string, start time.Time) {
	c.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordIteration counts a finished iteration.
func (c *Collector) RecordIteration(result string) {
	c.IterationsTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		c.LastSuccessTimestamp.SetToCurrentTime()
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes the metrics in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
