package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records calibration run counters. A nil *Metrics is a no-op.
type Metrics struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	duration prometheus.Histogram
	running  prometheus.Gauge
}

// NewMetrics registers the run metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Name: "camcal_runs_started_total",
			Help: "Total number of calibration runs started",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "camcal_runs_finished_total",
			Help: "Total number of calibration runs finished, by outcome",
		}, []string{"status"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "camcal_run_duration_seconds",
			Help:    "Calibration run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Name: "camcal_runs_running",
			Help: "Number of calibration runs in flight",
		}),
	}
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.running.Inc()
}

// runFinished is called once per run. status is succeeded, failed or discarded.
func (m *Metrics) runFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.finished.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
}
