package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	stepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camctl",
			Subsystem: "installer",
			Name:      "step_total",
			Help:      "Installer steps by operation, step and outcome.",
		},
		[]string{"operation", "step", "outcome"},
	)
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camctl",
			Subsystem: "installer",
			Name:      "step_duration_seconds",
			Help:      "Installer step duration in seconds.",
			// builds on a Pi take minutes
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600, 1800},
		},
		[]string{"operation", "step"},
	)
	jobsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "camctl",
			Subsystem: "jobs",
			Name:      "queued",
			Help:      "Jobs waiting for the installer worker.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, stepTotal, stepDuration, jobsQueued)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordStep counts one finished installer step.
func RecordStep(operation, step, outcome string, duration time.Duration) {
	RegisterMetrics()
	stepTotal.WithLabelValues(operation, step, outcome).Inc()
	stepDuration.WithLabelValues(operation, step).Observe(duration.Seconds())
}

func SetJobsQueued(n int) {
	RegisterMetrics()
	jobsQueued.Set(float64(n))
}
