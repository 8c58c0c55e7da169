package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the coordinator and worker
// runtime populate. Instances are safe for concurrent use across handlers
// and worker goroutines.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	JobsCreatedTotal   *prometheus.CounterVec
	JobsCompletedTotal *prometheus.CounterVec
	JobsFailedTotal    *prometheus.CounterVec
	ClaimAttemptsTotal *prometheus.CounterVec
	ClaimMissesTotal   *prometheus.CounterVec

	WorkersActive   *prometheus.GaugeVec
	WorkerRestarts  *prometheus.CounterVec
	RateLimitAllows *prometheus.CounterVec
	RateLimitDenies *prometheus.CounterVec
}

// NewMetrics registers and returns a fresh Metrics instance against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_http_requests_total",
			Help: "Total HTTP requests served by the dispatch coordinator.",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatchd_http_request_duration_seconds",
			Help:    "HTTP request latency observed by the dispatch coordinator.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		JobsCreatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_jobs_created_total",
			Help: "Jobs admitted, by type.",
		}, []string{"type"}),

		JobsCompletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_jobs_completed_total",
			Help: "Jobs that reached status completed, by type.",
		}, []string{"type"}),

		JobsFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_jobs_failed_total",
			Help: "Jobs that reached status failed, by type.",
		}, []string{"type"}),

		ClaimAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_claim_attempts_total",
			Help: "Claim protocol invocations, by type.",
		}, []string{"type"}),

		ClaimMissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_claim_misses_total",
			Help: "Claim attempts that lost the compare-and-set race, by type.",
		}, []string{"type"}),

		WorkersActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatchd_workers_active",
			Help: "Currently supervised worker processes, by type.",
		}, []string{"type"}),

		WorkerRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_worker_restarts_total",
			Help: "Worker process crash-restarts performed by the supervisor.",
		}, []string{"type"}),

		RateLimitAllows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_rate_limit_allows_total",
			Help: "Rate limiter ALLOW decisions, by bucket.",
		}, []string{"bucket"}),

		RateLimitDenies: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_rate_limit_denies_total",
			Help: "Rate limiter DENY decisions, by bucket.",
		}, []string{"bucket"}),
	}
}
