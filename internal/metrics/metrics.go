// Package metrics records run counters on a private Prometheus registry that
// can be exported to a node exporter textfile after a run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeDegraded  = "degraded"
)

// Recorder collects run metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry  *prometheus.Registry
	batches   *prometheus.CounterVec
	attempts  prometheus.Counter
	rowsRated prometheus.Counter
	duration  prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prefsim_batches_total",
			Help: "Batches processed, by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prefsim_batch_attempts_total",
			Help: "Backend attempts across all batches, including retries.",
		}),
		rowsRated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prefsim_rows_rated_total",
			Help: "Rows that received a preference.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prefsim_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
	}
	r.registry.MustRegister(r.batches, r.attempts, r.rowsRated, r.duration)
	return r
}

func (r *Recorder) Attempt() {
	if r == nil {
		return
	}
	r.attempts.Inc()
}

func (r *Recorder) BatchSucceeded(rated int) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(OutcomeSucceeded).Inc()
	r.rowsRated.Add(float64(rated))
}

func (r *Recorder) BatchDegraded() {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(OutcomeDegraded).Inc()
}

func (r *Recorder) ObserveDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.duration.Set(d.Seconds())
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WriteTextfile writes the current values in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
