// Package metrics exposes benchmark outcomes as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/ipibench/internal/benchmark"
)

const namespace = "ipibench"

// Recorder owns a private registry so tests and several servers in one
// process do not collide.
type Recorder struct {
	registry *prometheus.Registry

	runs                *prometheus.CounterVec
	detections          *prometheus.CounterVec
	skipped             *prometheus.CounterVec
	detectionsPerSecond *prometheus.GaugeVec
	millisPerDetection  *prometheus.GaugeVec
	wallTime            *prometheus.HistogramVec
	jobs                *prometheus.CounterVec
	jobsRunning         prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "configuration_runs_total",
			Help:      "Benchmarked configurations by result.",
		}, []string{"configuration", "result"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Successful detections in timed passes.",
		}, []string{"configuration"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_skipped_total",
			Help:      "Failed detections in timed passes.",
		}, []string{"configuration"}),
		detectionsPerSecond: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detections_per_second",
			Help:      "Throughput of the last timed pass.",
		}, []string{"configuration"}),
		millisPerDetection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "millis_per_detection",
			Help:      "Average milliseconds per detection of the last timed pass.",
		}, []string{"configuration"}),
		wallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "timed_pass_seconds",
			Help:      "Wall-clock duration of timed passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"configuration"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished benchmark jobs by status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Benchmark jobs currently running.",
		}),
	}

	r.registry.MustRegister(
		r.runs,
		r.detections,
		r.skipped,
		r.detectionsPerSecond,
		r.millisPerDetection,
		r.wallTime,
		r.jobs,
		r.jobsRunning,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveReport implements benchmark.Observer.
func (r *Recorder) ObserveReport(report *benchmark.Report) {
	name := report.Configuration.Name()
	r.runs.WithLabelValues(name, "ok").Inc()
	r.detections.WithLabelValues(name).Add(float64(report.TotalCount))
	r.skipped.WithLabelValues(name).Add(float64(report.TotalSkipped))
	r.detectionsPerSecond.WithLabelValues(name).Set(float64(report.DetectionsPerSecond))
	r.millisPerDetection.WithLabelValues(name).Set(report.MillisPerDetection)
	r.wallTime.WithLabelValues(name).Observe(report.WallTime.Seconds())
}

// ObserveFailure implements benchmark.Observer.
func (r *Recorder) ObserveFailure(cfg benchmark.Configuration, err error) {
	r.runs.WithLabelValues(cfg.Name(), "failed").Inc()
}

func (r *Recorder) JobStarted() {
	r.jobsRunning.Inc()
}

func (r *Recorder) JobFinished(status string) {
	r.jobsRunning.Dec()
	r.jobs.WithLabelValues(status).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
