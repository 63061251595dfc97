package metrics

import (
	"strconv"
	"sync"
	"time"

	"chansync/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chansync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	syncSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_submitted_total",
			Help:      "Sync requests by submission outcome.",
		},
		[]string{"outcome"},
	)

	syncJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_jobs_total",
			Help:      "Processed sync jobs by queue and terminal status.",
		},
		[]string{"queue", "status"},
	)

	syncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_records_total",
			Help:      "Records pushed to providers by result.",
		},
		[]string{"provider", "result"},
	)

	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_retries_total",
			Help:      "Retry decisions for retryable record failures.",
		},
		[]string{"outcome"},
	)

	providerCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of one provider batch call.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"provider", "operation"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_job_duration_seconds",
			Help:      "Wall time of a sync job from IN_PROGRESS to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"queue"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs per queue and state.",
		},
		[]string{"queue", "state"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			syncSubmitted,
			syncJobs,
			syncRecords,
			retries,
			providerCalls,
			jobDuration,
			queueDepth,
		)
	})
}

func IncHTTP(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func IncSubmitted(outcome string) {
	syncSubmitted.WithLabelValues(outcome).Inc()
}

func ObserveJob(queue string, status models.SyncStatus, took time.Duration) {
	syncJobs.WithLabelValues(queue, string(status)).Inc()
	jobDuration.WithLabelValues(queue).Observe(took.Seconds())
}

func ObserveProviderCall(providerType string, op models.Operation, took time.Duration, synced, failed int) {
	providerCalls.WithLabelValues(providerType, string(op)).Observe(took.Seconds())
	syncRecords.WithLabelValues(providerType, "synced").Add(float64(synced))
	syncRecords.WithLabelValues(providerType, "failed").Add(float64(failed))
}

func IncRetry(outcome string) {
	retries.WithLabelValues(outcome).Inc()
}

func SetQueueDepth(queue string, c models.QueueCounts) {
	queueDepth.WithLabelValues(queue, "waiting").Set(float64(c.Waiting))
	queueDepth.WithLabelValues(queue, "delayed").Set(float64(c.Delayed))
	queueDepth.WithLabelValues(queue, "active").Set(float64(c.Active))
}
