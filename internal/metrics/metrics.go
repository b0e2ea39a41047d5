// Package metrics collects run counters and writes them in the Prometheus
// textfile format next to the other run artifacts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "uiqa"

// Recorder holds one run's metrics. A nil *Recorder records nothing.
type Recorder struct {
	reg *prometheus.Registry

	attempts       *prometheus.CounterVec
	results        *prometheus.CounterVec
	attemptSeconds *prometheus.HistogramVec
	bootSeconds    prometheus.Gauge
	bootReused     prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Scenario attempts by target and result.",
		}, []string{"target", "result"}),
		results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Final scenario outcomes by target.",
		}, []string{"target", "outcome"}),
		attemptSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of one scenario attempt.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"target"}),
		bootSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sut_boot_seconds",
			Help:      "Time until the system under test accepted connections.",
		}),
		bootReused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sut_reused",
			Help:      "1 when an already running server was reused.",
		}),
	}
}

func (r *Recorder) ObserveAttempt(target string, passed bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "failed"
	if passed {
		result = "passed"
	}
	r.attempts.WithLabelValues(target, result).Inc()
	r.attemptSeconds.WithLabelValues(target).Observe(d.Seconds())
}

func (r *Recorder) ObserveResult(target, outcome string) {
	if r == nil {
		return
	}
	r.results.WithLabelValues(target, outcome).Inc()
}

func (r *Recorder) ObserveBoot(d time.Duration, reused bool) {
	if r == nil {
		return
	}
	r.bootSeconds.Set(d.Seconds())
	if reused {
		r.bootReused.Set(1)
	} else {
		r.bootReused.Set(0)
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// WriteFile writes every metric to path in the textfile exposition format.
func (r *Recorder) WriteFile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
