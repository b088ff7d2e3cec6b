package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seedforge",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by tier and outcome.",
		},
		[]string{"tier", "hit"},
	)
	derivations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seedforge",
			Subsystem: "derive",
			Name:      "jobs_total",
			Help:      "Settled derivation jobs by outcome.",
		},
		[]string{"outcome"},
	)
	derivationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seedforge",
			Subsystem: "derive",
			Name:      "duration_seconds",
			Help:      "Wall time of a single derivation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seedforge",
			Subsystem: "pool",
			Name:      "active_workers",
			Help:      "Workers currently executing a job.",
		},
	)
	queuedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seedforge",
			Subsystem: "pool",
			Name:      "queued_jobs",
			Help:      "Jobs waiting for a free worker.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seedforge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			cacheLookups,
			derivations,
			derivationDuration,
			activeWorkers,
			queuedJobs,
			httpRequests,
		)
	})
}

func RecordCacheLookup(tier string, hit bool) {
	cacheLookups.WithLabelValues(tier, strconv.FormatBool(hit)).Inc()
}

func RecordDerivation(outcome string, duration time.Duration) {
	derivations.WithLabelValues(outcome).Inc()
	derivationDuration.Observe(duration.Seconds())
}

func SetActiveWorkers(n int) {
	activeWorkers.Set(float64(n))
}

func SetQueuedJobs(n int) {
	queuedJobs.Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
