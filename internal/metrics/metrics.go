// Package metrics exposes invite loop measurements in Prometheus format and
// serves them, with health and profiling endpoints, on the ops HTTP server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inviter/internal/invite"
)

// Metrics implements invite.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	lastAttempt     prometheus.Gauge
	backoffSeconds  *prometheus.CounterVec
	waits           *prometheus.CounterVec
	waitSeconds     *prometheus.HistogramVec
}

var _ invite.Observer = (*Metrics)(nil)

// New registers the invite collectors plus the Go runtime and process
// collectors under namespace (e.g. "inviter").
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_attempts_total",
			Help:      "Invitation attempts by recorded outcome.",
		}, []string{"outcome"}),
		attemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invite_attempt_duration_seconds",
			Help:      "Time spent resolving and inviting one candidate.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		lastAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "invite_last_attempt_timestamp_seconds",
			Help:      "Unix time of the most recent recorded attempt.",
		}),
		backoffSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_backoff_seconds_total",
			Help:      "Mandatory backoff imposed by rate-limit outcomes.",
		}, []string{"outcome"}),
		waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_waits_total",
			Help:      "Scheduler sleeps by reason.",
		}, []string{"reason"}),
		waitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_wait_seconds",
			Help:      "Scheduler sleep durations by reason.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 21600, 86400},
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.attempts, m.attemptDuration, m.lastAttempt, m.backoffSeconds, m.waits, m.waitSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// Export every outcome at zero so rate() works from the first scrape.
	for _, o := range invite.Outcomes() {
		m.attempts.WithLabelValues(string(o))
	}
	return m
}

func (m *Metrics) ObserveAttempt(rec invite.Record, took time.Duration) {
	m.attempts.WithLabelValues(string(rec.Outcome)).Inc()
	m.attemptDuration.Observe(took.Seconds())
	m.lastAttempt.Set(float64(rec.AttemptedAt.Unix()))
}

func (m *Metrics) ObserveBackoff(o invite.Outcome, d time.Duration) {
	m.backoffSeconds.WithLabelValues(string(o)).Add(d.Seconds())
}

func (m *Metrics) ObserveWait(reason string, d time.Duration) {
	m.waits.WithLabelValues(reason).Inc()
	m.waitSeconds.WithLabelValues(reason).Observe(d.Seconds())
}

// GaugeFunc registers a gauge sampled at scrape time.
func (m *Metrics) GaugeFunc(namespace, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// CounterFunc registers a monotonic counter sampled at scrape time.
func (m *Metrics) CounterFunc(namespace, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
